// Package services holds the concrete providers behind the handlers' interfaces: the streaming
// completion gateway, local Ollama models, an OpenAI-compatible title generator, and the BoltDB
// store.
package services

const errLoggerKey = "err"

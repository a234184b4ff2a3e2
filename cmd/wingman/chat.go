package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MegaGrindStone/wingman-chat/internal/models"
	"github.com/MegaGrindStone/wingman-chat/internal/stream"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type chatOptions struct {
	InputFile string
}

// replyStreamer is the streaming side of services.Gateway.
type replyStreamer interface {
	StreamResponse(ctx context.Context, messages []models.Message, onDelta func(string), onDone func()) error
}

func newChatCmd(v *viper.Viper) *cobra.Command {
	opts := &chatOptions{}
	cmd := &cobra.Command{
		Use:   "chat [prompt...]",
		Short: "Stream one reply of the gateway to stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, v, opts, args)
		},
	}
	cmd.Flags().StringVarP(&opts.InputFile, "file", "F", "", "prompt file, use -F- for stdin")
	return cmd
}

func runChat(cmd *cobra.Command, v *viper.Viper, opts *chatOptions, args []string) error {
	input, err := readInput(args, opts.InputFile, cmd.InOrStdin())
	if err != nil {
		return err
	}
	if strings.TrimSpace(input) == "" {
		return errors.New("input is required")
	}

	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)
	if err != nil {
		return err
	}
	gateway, err := cfg.gateway(logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return streamReply(ctx, gateway, input, cmd.OutOrStdout(), cmd.ErrOrStderr())
}

// streamReply writes the reply to out as it arrives and a notice to errOut when it fails.
func streamReply(ctx context.Context, s replyStreamer, input string, out, errOut io.Writer) error {
	messages := []models.Message{{
		Role:      models.RoleUser,
		Content:   input,
		Timestamp: time.Now(),
	}}

	err := s.StreamResponse(ctx, messages,
		func(delta string) { _, _ = fmt.Fprint(out, delta) },
		func() { _, _ = fmt.Fprintln(out) },
	)
	if err != nil && !errors.Is(err, context.Canceled) {
		_, _ = fmt.Fprintln(errOut, stream.NoticeFor(err).Text)
	}
	return err
}

func readInput(args []string, inputFile string, stdin io.Reader) (string, error) {
	if inputFile != "" && len(args) > 0 {
		return "", errors.New("input args and -F are mutually exclusive")
	}
	if inputFile == "" {
		if len(args) == 0 {
			return "", errors.New("missing input: provide args or -F")
		}
		return strings.Join(args, " "), nil
	}
	if inputFile == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return strings.TrimRight(string(data), "\r\n"), nil
	}
	data, err := os.ReadFile(inputFile)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

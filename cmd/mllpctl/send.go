package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/danmuck/mllp/internal/client"
	"github.com/danmuck/mllp/internal/exchange"
	"github.com/danmuck/mllp/internal/protocol"
	"github.com/danmuck/mllp/internal/protocol/hl7"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
)

func newSendCmd() *cobra.Command {
	var (
		path    string
		file    string
		control exchange.Control
	)
	cmd := &cobra.Command{
		Use:   "send",
		Short: "send one HL7 message and print its acknowledgement",
		Long:  `Read an HL7 message from --file ("-" for stdin), send it over MLLP and print the acknowledgement. Line endings are normalized to CR.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, path)
			if err != nil {
				return err
			}
			payload, err := readMessage(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}

			p, err := client.New(cfg.Session)
			if err != nil {
				return err
			}
			defer p.Close()

			ex := exchange.New(payload)
			ex.Control = control
			err = p.Send(cmd.Context(), ex)
			printAck(cmd.OutOrStdout(), ex)
			return err
		},
	}
	cmd.Flags().StringVarP(&path, "config", "c", "client.toml", "client config file")
	cmd.Flags().StringVarP(&file, "file", "f", "", "HL7 message file, - for stdin")
	cmd.Flags().BoolVar(&control.ResetBeforeSend, "reset-before-send", false, "reset the connection instead of sending")
	cmd.Flags().BoolVar(&control.CloseBeforeSend, "close-before-send", false, "close the connection instead of sending")
	cmd.Flags().BoolVar(&control.ResetAfterSend, "reset-after-send", false, "reset the connection after the acknowledgement")
	cmd.Flags().BoolVar(&control.CloseAfterSend, "close-after-send", false, "close the connection after the acknowledgement")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func readMessage(stdin io.Reader, file string) ([]byte, error) {
	var (
		raw []byte
		err error
	)
	if file == "-" {
		raw, err = io.ReadAll(stdin)
	} else {
		raw, err = os.ReadFile(file)
	}
	if err != nil {
		return nil, err
	}
	raw = bytes.ReplaceAll(raw, []byte("\r\n"), []byte("\r"))
	raw = bytes.ReplaceAll(raw, []byte("\n"), []byte("\r"))
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, errors.New("message is empty")
	}
	return raw, nil
}

func printAck(out io.Writer, ex *exchange.Exchange) {
	if len(ex.Ack) == 0 {
		if ex.Control.BeforeSend() != exchange.ActionNone {
			fmt.Fprintf(out, "%s %s\n", yellow("skipped:"), ex.Control.BeforeSend())
		}
		return
	}
	fmt.Fprintf(out, "%s %s\n", ackColor(ex.AckCode)(string(ex.AckCode)), ex.ID)
	fmt.Fprintln(out, protocol.PrintFriendly(ex.Ack))
}

func ackColor(code hl7.AckCode) func(a ...interface{}) string {
	switch code {
	case hl7.ApplicationAccept, hl7.CommitAccept:
		return green
	case hl7.ApplicationError, hl7.CommitError:
		return yellow
	default:
		return red
	}
}

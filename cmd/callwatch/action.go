package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"dialer-realtime/internal/config"
	"dialer-realtime/pkg/callsdk"
	"dialer-realtime/pkg/callsession"
	"dialer-realtime/pkg/realtime"

	"github.com/spf13/cobra"
)

// Commands that are not plain session actions.
const (
	cmdCredentials = "credentials"
	cmdSubmitLeads = "submit_leads"
	cmdClearLeads  = "clear_leads"
	cmdLeadMethod  = "lead_selection"
)

func newActionCmd() *cobra.Command {
	var leadsFile string
	names := make([]string, 0, len(callsession.Actions)+4)
	for _, a := range callsession.Actions {
		names = append(names, string(a))
	}
	names = append(names, cmdCredentials, cmdSubmitLeads, cmdClearLeads, cmdLeadMethod)

	cmd := &cobra.Command{
		Use:       "action <name> [arg]",
		Short:     "Send one command to the current call session",
		Long:      "Known names: " + strings.Join(names, ", ") + ".\nsubmit_leads reads a JSON array of leads from --leads (\"-\" for stdin); lead_selection takes list or queue.",
		Args:      cobra.RangeArgs(1, 2),
		ValidArgs: names,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.RequireClient(); err != nil {
				return err
			}
			return runAction(cmd.Context(), cfg, args, leadsFile, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&leadsFile, "leads", "-", "JSON file with leads for submit_leads")
	return cmd
}

func runAction(ctx context.Context, cfg config.Config, args []string, leadsFile string, in io.Reader, out io.Writer) error {
	log := newLogger(cfg)

	// no events are consumed, so an in-process bus is enough
	client, err := callsdk.New(callsdk.Options{
		Host:      cfg.API.Host,
		Namespace: cfg.API.Namespace,
		AuthToken: cfg.API.Token,
		Transport: realtime.NewMemoryBroker().Factory(),
		Timeout:   cfg.API.Timeout,
		Logger:    log,
	})
	if err != nil {
		return err
	}
	defer func() { _ = client.Destroy(context.Background()) }()

	s, err := client.Fetch(ctx)
	if err != nil {
		return err
	}

	name := args[0]
	switch name {
	case cmdCredentials:
		creds, err := s.Credentials(ctx)
		if err != nil {
			return err
		}
		return json.NewEncoder(out).Encode(map[string]string{"phone_number": creds.PhoneNumber, "pin": creds.PIN})
	case cmdSubmitLeads:
		leads, err := readLeads(leadsFile, in)
		if err != nil {
			return err
		}
		if err := s.SubmitLeads(ctx, leads...); err != nil {
			return err
		}
	case cmdClearLeads:
		if err := s.ClearLeads(ctx); err != nil {
			return err
		}
	case cmdLeadMethod:
		if len(args) < 2 {
			return fmt.Errorf("%s needs list or queue", cmdLeadMethod)
		}
		if err := s.SetLeadSelectionMethod(ctx, callsession.LeadSelectionMethod(args[1])); err != nil {
			return err
		}
	default:
		a, err := callsession.ParseAction(name)
		if err != nil {
			return err
		}
		if err := s.Send(ctx, a); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(out, "%s: ok\n", name)
	return err
}

func readLeads(path string, stdin io.Reader) ([]callsession.Lead, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	var leads []callsession.Lead
	if err := json.NewDecoder(r).Decode(&leads); err != nil {
		return nil, fmt.Errorf("decode leads: %w", err)
	}
	return leads, nil
}

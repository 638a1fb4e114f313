package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goliatone/go-print"
	shopagent "github.com/goliatone/go-shopagent"
	"github.com/goliatone/go-shopagent/content"
	"github.com/goliatone/go-shopagent/httpapi/client"
	"github.com/goliatone/go-shopagent/pagematch"
	"github.com/goliatone/go-shopagent/panel"
	"github.com/goliatone/go-shopagent/session"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

func newClient(ctx context.Context, flags *globalFlags) (*client.Client, *shopagent.Config, error) {
	lgr := newLogger(flags.verbose)
	cfg, err := loadConfig(ctx, lgr)
	if err != nil {
		return nil, nil, err
	}
	c := client.New(flags.baseURL(cfg),
		client.WithToken(flags.accessToken(cfg)),
		client.WithLogger(lgr.GetLogger("client")),
	)
	return c, cfg, nil
}

func newMatcher(cfg shopagent.PagesConfig) *pagematch.Matcher {
	var opts []pagematch.Option
	if len(cfg.Domains) > 0 {
		opts = append(opts, pagematch.WithDomains(cfg.Domains...))
	}
	if len(cfg.ProductPaths) > 0 {
		opts = append(opts, pagematch.WithProductPaths(cfg.ProductPaths...))
	}
	return pagematch.NewMatcher(opts...)
}

func readPage(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if path == "-" {
		raw, err := io.ReadAll(os.Stdin)
		return string(raw), err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read page: %w", err)
	}
	return string(raw), nil
}

func newMatchCommand(flags *globalFlags) *cobra.Command {
	var htmlPath string

	cmd := &cobra.Command{
		Use:   "match <url>",
		Short: "Check whether a URL is a supported product page and extract its title",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Context(), newLogger(flags.verbose))
			if err != nil {
				return err
			}
			pageURL := args[0]
			if newMatcher(cfg.Pages).IsSupportedPage(pageURL) {
				pterm.Success.Println("supported product page")
			} else {
				pterm.Warning.Println("not a supported product page")
			}

			if htmlPath == "" {
				return nil
			}
			page, err := readPage(htmlPath)
			if err != nil {
				return err
			}
			info, err := pagematch.ExtractPageInfo(strings.NewReader(page), pageURL)
			if err != nil {
				return err
			}
			fmt.Println(print.MaybeHighlightJSON(info))
			return nil
		},
	}
	cmd.Flags().StringVar(&htmlPath, "html", "", "page HTML file to extract from, - for stdin")
	return cmd
}

func newSessionCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "session",
		Short: "Print the session record of a running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newClient(cmd.Context(), flags)
			if err != nil {
				return err
			}
			state, err := c.Read(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(print.MaybeHighlightJSON(state))
			return nil
		},
	}
}

func newSendCommand(flags *globalFlags) *cobra.Command {
	var req shopagent.Request

	cmd := &cobra.Command{
		Use:   "send <action>",
		Short: "Send an action request to a running daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newClient(cmd.Context(), flags)
			if err != nil {
				return err
			}
			req.Action = shopagent.Action(args[0])
			resp, err := c.Send(cmd.Context(), req)
			if err != nil {
				return err
			}
			switch resp.Status {
			case shopagent.StatusSuccess:
				pterm.Success.Println(resp.Message)
			case shopagent.StatusCancelled:
				pterm.Warning.Println(resp.Error)
			default:
				pterm.Error.Println(resp.Error)
			}
			fmt.Println(print.MaybeHighlightJSON(resp))
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Email, "email", "", "account email")
	cmd.Flags().StringVar(&req.Password, "password", "", "account password")
	cmd.Flags().StringVar(&req.Nickname, "nickname", "", "display name for signup")
	cmd.Flags().StringVar(&req.URL, "url", "", "product URL for insights")
	return cmd
}

func newWatchCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow session record changes of a running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newClient(cmd.Context(), flags)
			if err != nil {
				return err
			}
			replica := session.NewReplica(c, nil)
			replica.Subscribe(func(change session.Change) {
				pterm.Info.Printfln("v%d %s %v", change.Current.Version, change.Current.Status, change.Fields)
			})
			if err := replica.Start(cmd.Context()); err != nil {
				return err
			}
			defer replica.Stop()

			state, err := replica.Read(cmd.Context())
			if err != nil {
				return err
			}
			pterm.Info.Printfln("v%d %s", state.Version, state.Status)

			<-cmd.Context().Done()
			return nil
		},
	}
}

func newVisitCommand(flags *globalFlags) *cobra.Command {
	var htmlPath string

	cmd := &cobra.Command{
		Use:   "visit <url>",
		Short: "Run the content context for a page against a running daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cfg, err := newClient(cmd.Context(), flags)
			if err != nil {
				return err
			}
			page, err := readPage(htmlPath)
			if err != nil {
				return err
			}

			replica := session.NewReplica(c, nil)
			if err := replica.Start(cmd.Context()); err != nil {
				return err
			}
			defer replica.Stop()

			script := content.New(c, replica,
				content.WithMatcher(newMatcher(cfg.Pages)),
				content.WithPanelOptions(panel.OnViewChange(func(s panel.Snapshot) {
					pterm.Info.Printfln("panel view: %s", s.View)
				})),
			)
			defer script.Close()

			result, err := script.Run(cmd.Context(), content.Page{URL: args[0], HTML: page})
			if err != nil {
				pterm.Warning.Printfln("page info incomplete: %v", err)
			}
			fmt.Println(print.MaybeHighlightJSON(result))
			return nil
		},
	}
	cmd.Flags().StringVar(&htmlPath, "html", "", "page HTML file, - for stdin")
	return cmd
}

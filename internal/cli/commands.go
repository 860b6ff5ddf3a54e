package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/milan604/netkit/pkg/client"
	"github.com/milan604/netkit/pkg/errors"
	"github.com/milan604/netkit/pkg/reachability"
	"github.com/milan604/netkit/pkg/router"
	"github.com/milan604/netkit/pkg/tlstrust"
	"github.com/milan604/netkit/pkg/upload"
)

func newGetCommand(opts *rootOptions) *cobra.Command {
	var (
		headers []string
		method  string
	)
	cmd := &cobra.Command{
		Use:   "get <url>",
		Short: "Perform a REST call and print the response body",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := routerFor(router.Method(strings.ToUpper(method)), args[0], headers)
			if err != nil {
				return err
			}
			body, err := client.Request[[]byte](cmd.Context(), opts.app.rest(), r)
			if err != nil {
				return describe(err)
			}
			_, err = cmd.OutOrStdout().Write(append(body, '\n'))
			return err
		},
	}
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "request header 'Key: Value' (repeatable)")
	cmd.Flags().StringVarP(&method, "method", "X", "GET", "HTTP method")
	return cmd
}

func newDownloadCommand(opts *rootOptions) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "download <url>",
		Short: "Download a resource, printing progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := routerFor(router.MethodGet, args[0], nil)
			if err != nil {
				return err
			}
			h := opts.app.http()
			op := h.Download(r)
			if out != "" {
				op = h.DownloadTo(r, out)
			}
			w := cmd.OutOrStdout()
			res, err := op.WaitProgress(cmd.Context(), progressPrinter(w))
			if err != nil {
				return describe(err)
			}
			fmt.Fprintf(w, "downloaded %s (%s)", upload.FormattedSize(res.Size), res.MIMEType)
			if res.Path != "" {
				fmt.Fprintf(w, " to %s", res.Path)
			}
			fmt.Fprintln(w)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the body to this file instead of memory")
	return cmd
}

func newUploadCommand(opts *rootOptions) *cobra.Command {
	var files, fields []string
	cmd := &cobra.Command{
		Use:   "upload <url>",
		Short: "Upload files and fields as multipart/form-data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := routerFor(router.MethodPost, args[0], nil)
			if err != nil {
				return err
			}
			r.Body = nil

			form := upload.NewFormData()
			for _, f := range fields {
				k, v, ok := strings.Cut(f, "=")
				if !ok {
					return errors.New("field must look like key=value: " + f)
				}
				form.AddField(k, v)
			}
			for _, f := range files {
				k, path, ok := strings.Cut(f, "=")
				if !ok {
					return errors.New("file must look like key=path: " + f)
				}
				ff, err := upload.NewFormFileFromPath(k, path)
				if err != nil {
					return err
				}
				form.AddFile(ff)
			}

			w := cmd.OutOrStdout()
			body, err := client.UploadForm[[]byte](opts.app.http(), r, form).WaitProgress(cmd.Context(), progressPrinter(w))
			if err != nil {
				return describe(err)
			}
			_, err = w.Write(append(body, '\n'))
			return err
		},
	}
	cmd.Flags().StringArrayVar(&files, "file", nil, "form file key=path (repeatable)")
	cmd.Flags().StringArrayVar(&fields, "field", nil, "form field key=value (repeatable)")
	return cmd
}

func newWebSocketCommand(opts *rootOptions) *cobra.Command {
	var (
		send      []string
		protocols []string
		wait      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "ws <url>",
		Short: "Open a WebSocket, send messages and print what comes back",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ws, err := client.Dial[json.RawMessage](ctx, client.NewWebSocketDialer(opts.app.sess), args[0], protocols, nil)
			if err != nil {
				return describe(err)
			}
			ws.WithLogger(opts.app.log)
			defer ws.Disconnect()

			for _, m := range send {
				if err := ws.Send(ctx, client.TextMessage(m)); err != nil {
					return err
				}
			}

			w := cmd.OutOrStdout()
			timeout := time.After(wait)
			errs := ws.Errors()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-timeout:
					return nil
				case text, ok := <-ws.Text():
					if !ok {
						return nil
					}
					fmt.Fprintf(w, "text: %s\n", text)
				case data, ok := <-ws.Data():
					if !ok {
						return nil
					}
					fmt.Fprintf(w, "data: %s\n", data)
				case err, ok := <-errs:
					if !ok {
						errs = nil
						continue
					}
					fmt.Fprintf(w, "error: %v\n", err)
				}
			}
		},
	}
	cmd.Flags().StringArrayVar(&send, "send", nil, "text message to send (repeatable)")
	cmd.Flags().StringSliceVar(&protocols, "protocol", nil, "subprotocols to offer")
	cmd.Flags().DurationVar(&wait, "wait", 2*time.Second, "how long to listen for messages")
	return cmd
}

func newReachCommand(opts *rootOptions) *cobra.Command {
	var (
		interval time.Duration
		duration time.Duration
		types    []string
	)
	cmd := &cobra.Command{
		Use:   "reach",
		Short: "Print network reachability transitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			allowed, err := parseInterfaceTypes(types)
			if err != nil {
				return err
			}
			m := reachability.New(reachability.WithInterval(interval), reachability.WithLogger(opts.app.log))
			m.SetInterfaceTypes(allowed...)
			m.Start(cmd.Context())
			defer m.Stop()

			updates, cancel := m.Subscribe()
			defer cancel()

			w := cmd.OutOrStdout()
			var deadline <-chan time.Time
			if duration > 0 {
				deadline = time.After(duration)
			}
			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case <-deadline:
					return nil
				case s := <-updates:
					fmt.Fprintf(w, "%s %s\n", time.Now().Format(time.RFC3339), s)
				}
			}
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", reachability.DefaultInterval, "probe interval")
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	cmd.Flags().StringSliceVar(&types, "interface", nil, "interface types to consider (wifi, cellular, wiredEthernet, loopback, other)")
	return cmd
}

func parseInterfaceTypes(names []string) ([]reachability.InterfaceType, error) {
	out := make([]reachability.InterfaceType, 0, len(names))
	for _, n := range names {
		found := false
		for _, t := range reachability.AllInterfaceTypes {
			if strings.EqualFold(t.String(), n) {
				out = append(out, t)
				found = true
				break
			}
		}
		if !found {
			return nil, errors.New("unknown interface type: " + n)
		}
	}
	return out, nil
}

func newPinsCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "pins <dir>",
		Short:       "Print the SPKI hash of every certificate in a directory",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{"offline": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			certs, err := tlstrust.LoadCertificatesDir(args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, c := range certs {
				fmt.Fprintf(w, "%s\tsha256/%s\n", c.Subject.CommonName, tlstrust.SPKIHash(c))
			}
			return nil
		},
	}
}

// progressPrinter prints one line per whole percent.
func progressPrinter(w io.Writer) func(float64) {
	last := -1
	return func(f float64) {
		pct := int(f * 100)
		if pct == last {
			return
		}
		last = pct
		fmt.Fprintf(w, "progress %3d%%\n", pct)
	}
}

// describe adds the status and decoded error body to HTTP errors.
func describe(err error) error {
	he, ok := errors.AsHTTPError(err)
	if !ok || he.Body == nil {
		return err
	}
	b, jerr := json.Marshal(he.Body)
	if jerr != nil {
		return err
	}
	return fmt.Errorf("%w: %s", err, b)
}

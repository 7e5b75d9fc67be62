package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/jrsteele09/mihome-cloud/cloud"
	"github.com/jrsteele09/mihome-cloud/credentials"
	"github.com/jrsteele09/mihome-cloud/credentials/filerepo"
	"github.com/jrsteele09/mihome-cloud/credentials/keyringrepo"
	"github.com/jrsteele09/mihome-cloud/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var errNoLocalDevice = errors.New("no supported device found")

func newRootCmd(c config.Config) *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:           "mihome",
		Short:         "Log in to the Xiaomi cloud and fetch local device credentials",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if !quiet {
				displayAppname(c.GetAppName())
			}
		},
	}
	cmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "do not print the banner")

	cmd.AddCommand(loginCmd(c))
	cmd.AddCommand(credentialsCmd(c))
	return cmd
}

func loginCmd(c config.Config) *cobra.Command {
	var (
		country string
		qrPNG   string
		noSave  bool
		force   bool
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in with a QR code and store the first local device's ip and token",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			repo, err := newCredentialsRepo(c)
			if err != nil {
				return err
			}
			if !force {
				creds, err := repo.Load()
				if err == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "Device credentials already stored (ip %s). Use --force to log in again.\n", creds.IP)
					return nil
				}
				if !errors.Is(err, credentials.ErrNotFound) {
					log.Warn().Err(err).Msg("stored credentials unreadable, logging in")
				}
			}

			return runLogin(ctx, c, cmd.OutOrStdout(), loginOptions{
				country: country,
				qrPNG:   qrPNG,
				save:    !noSave,
				repo:    repo,
			})
		},
	}
	cmd.Flags().StringVar(&country, "country", c.GetCountry(), "Xiaomi cloud region (cn, de, sg, us, ...)")
	cmd.Flags().StringVar(&qrPNG, "qr-png", "", "also write the QR code image to this path")
	cmd.Flags().BoolVar(&noSave, "no-save", false, "do not store the device credentials")
	cmd.Flags().BoolVar(&force, "force", false, "log in even when credentials are already stored")
	return cmd
}

type loginOptions struct {
	country string
	qrPNG   string
	save    bool
	repo    credentials.Repo
	engine  []cloud.EngineOption
}

func runLogin(ctx context.Context, c config.Config, out io.Writer, opts loginOptions) error {
	engineOpts := append([]cloud.EngineOption{
		cloud.WithCABundle(c.GetCABundle()),
		cloud.WithTimeouts(c.GetRequestTimeout(), c.GetPollAttemptTimeout()),
		cloud.WithPollInterval(c.GetPollInterval()),
		cloud.WithLogger(log.Logger),
	}, opts.engine...)
	engine, err := cloud.NewEngine(engineOpts...)
	if err != nil {
		return err
	}

	loginCtx := ctx
	if d := c.GetLoginDeadline(); d > 0 {
		var cancel context.CancelFunc
		loginCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	err = engine.Login(loginCtx, func(challenge cloud.QRChallenge, image []byte) {
		if err := showQR(out, challenge, image, opts.qrPNG); err != nil {
			log.Warn().Err(err).Msg("could not render QR code")
		}
		fmt.Fprintln(out, "Scan the QR code with the Mi Home app...")
	})
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	fmt.Fprintln(out, "Authenticated. Fetching devices...")

	devices, err := engine.ListDevices(ctx, opts.country)
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}
	printDevices(out, devices)

	target, ok := cloud.FirstLocalDevice(devices)
	if !ok {
		return errNoLocalDevice
	}
	if !opts.save {
		return nil
	}
	if err := opts.repo.Save(&credentials.DeviceCredentials{IP: target.LocalIP, Token: target.Token}); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	fmt.Fprintf(out, "Stored credentials for %s (%s).\n", target.Name, target.LocalIP)
	return nil
}

func printDevices(out io.Writer, devices []cloud.Device) {
	if len(devices) == 0 {
		fmt.Fprintln(out, "No devices found.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tMODEL\tIP\tONLINE")
	for _, d := range devices {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", d.Name, d.Model, d.LocalIP, d.IsOnline)
	}
	w.Flush()
}

func credentialsCmd(c config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Inspect or remove the stored device credentials",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the stored device ip",
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := newCredentialsRepo(c)
			if err != nil {
				return err
			}
			creds, err := repo.Load()
			if errors.Is(err, credentials.ErrNotFound) {
				fmt.Fprintln(cmd.OutOrStdout(), "No device credentials stored.")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ip: %s\ntoken: %s\n", creds.IP, maskToken(creds.Token))
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete the stored device credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := newCredentialsRepo(c)
			if err != nil {
				return err
			}
			if err := repo.Delete(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Device credentials removed.")
			return nil
		},
	})
	return cmd
}

func newCredentialsRepo(c config.Config) (credentials.Repo, error) {
	switch c.GetCredentialsStore() {
	case config.KeyringStore:
		return keyringrepo.New(keyringrepo.DefaultService, keyringrepo.DefaultAccount), nil
	case config.FileStore:
		return filerepo.New(c.GetConfigFile()), nil
	}
	return nil, fmt.Errorf("unknown credentials store %q", c.GetCredentialsStore())
}

func maskToken(token string) string {
	if len(token) <= 4 {
		return "****"
	}
	return token[:4] + "****"
}

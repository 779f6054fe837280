package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"hchat/internal/capability"
	"hchat/internal/config"
	"hchat/internal/content"
	"hchat/internal/models"
	"hchat/internal/realtime"
	"hchat/internal/room"
	"hchat/internal/storage"
	"hchat/internal/ws"

	"github.com/spf13/cobra"
)

type options struct {
	url     string
	prefs   string
	name    string
	room    string
	newRoom bool
	caps    string
	noColor bool
	verbose bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "hchat",
		Short:         "Terminal client for hchat rooms",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return chat(cmd.Context(), opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.url, "url", "", "realtime endpoint (default $HCHAT_URL)")
	flags.StringVar(&opts.prefs, "prefs", "", "local preferences file (default $HCHAT_PREFS)")
	flags.StringVarP(&opts.name, "name", "n", "", "user name, remembered for next time")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log channel activity")

	rootCmd.Flags().StringVarP(&opts.room, "room", "r", "", "room id to join (default: most recent room)")
	rootCmd.Flags().BoolVar(&opts.newRoom, "new", false, "create a new room")
	rootCmd.Flags().StringVar(&opts.caps, "caps", "", "device capabilities, e.g. speech,microphone")
	rootCmd.Flags().BoolVar(&opts.noColor, "no-color", false, "disable colored names")

	rootCmd.AddCommand(newRoomsCmd(opts), newForgetCmd(opts), newThemeCmd(opts), newSoundCmd(opts), newLogoutCmd(opts))
	return rootCmd
}

func (o *options) logger() *slog.Logger {
	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func (o *options) openPrefs() (*storage.Prefs, *config.ClientConfig, error) {
	cfg, err := config.LoadClient()
	if err != nil {
		return nil, nil, err
	}
	if o.url != "" {
		cfg.URL = o.url
	}
	if o.prefs != "" {
		cfg.PrefsFile = o.prefs
	}
	prefs, err := storage.OpenPrefs(cfg.PrefsFile)
	if err != nil {
		return nil, nil, err
	}
	return prefs, cfg, nil
}

// userName picks the flag over the remembered name and stores the result.
func (o *options) userName(prefs *storage.Prefs) (string, error) {
	name := o.name
	if name == "" {
		saved, err := prefs.UserName()
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return "", err
		}
		name = saved
	}
	if name == "" {
		return "", errors.New("no user name yet, pass --name")
	}
	name, err := content.NormalizeUserName(name)
	if err != nil {
		return "", err
	}
	if err := prefs.SetUserName(name); err != nil {
		return "", err
	}
	return name, nil
}

// pickRoom resolves the room to open: an explicit id, a new room, or the
// most recently active room of the user.
func (o *options) pickRoom(prefs *storage.Prefs, user string) (string, error) {
	if o.room != "" {
		return o.room, prefs.JoinRoom(user, o.room, "")
	}
	if !o.newRoom {
		rooms, err := prefs.Rooms(user)
		if err != nil {
			return "", err
		}
		var latest *storage.Room
		for i := range rooms {
			if latest == nil || rooms[i].LastActivity.After(latest.LastActivity) {
				latest = &rooms[i]
			}
		}
		if latest != nil {
			return latest.ID, prefs.JoinRoom(user, latest.ID, "")
		}
	}
	r, err := prefs.AddRoom(user, "", "")
	if err != nil {
		return "", err
	}
	return r.ID, nil
}

func chat(ctx context.Context, opts *options, in io.Reader, out io.Writer) error {
	log := opts.logger()

	prefs, cfg, err := opts.openPrefs()
	if err != nil {
		return err
	}
	defer func() { _ = prefs.Close() }()

	user, err := opts.userName(prefs)
	if err != nil {
		return err
	}
	roomID, err := opts.pickRoom(prefs, user)
	if err != nil {
		return err
	}

	provider, err := capability.ParseStatic(opts.caps)
	if err != nil {
		return err
	}
	caps := capability.Probe(ctx, provider)

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := realtime.Connect(dialCtx, ws.Dialer(cfg.URL, log), realtime.Config{Logger: log})
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	term := newTerminal(out, prefs, log, !opts.noColor)
	r, err := room.Mount(dialCtx, client, term.config(room.Config{
		RoomID:       roomID,
		UserName:     user,
		Logger:       log,
		Capabilities: caps,
	}))
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()
	term.attach(r)

	term.printf("joined room %s as %s, /help for commands\n", roomID, user)
	if caps.Has(capability.InstallPrompt) {
		installHint(term, prefs, log)
	}
	if err := term.run(ctx, in); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newRoomsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "rooms",
		Short: "List the rooms remembered on this device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			prefs, _, err := opts.openPrefs()
			if err != nil {
				return err
			}
			defer func() { _ = prefs.Close() }()

			user, err := opts.userName(prefs)
			if err != nil {
				return err
			}
			rooms, err := prefs.Rooms(user)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(rooms) == 0 {
				fmt.Fprintln(out, "no rooms yet")
				return nil
			}
			now := time.Now()
			for _, r := range rooms {
				fmt.Fprintf(out, "%s  %-33s  %-10s  %s\n", r.ID, r.Name, content.FormatTimeAgo(r.LastActivity, now), r.LastMessage)
			}
			return nil
		},
	}
}

func newForgetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "forget <room>",
		Short: "Remove a room from this device's list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefs, _, err := opts.openPrefs()
			if err != nil {
				return err
			}
			defer func() { _ = prefs.Close() }()

			user, err := opts.userName(prefs)
			if err != nil {
				return err
			}
			next, ok, err := prefs.RemoveRoom(user, args[0])
			if err != nil {
				return err
			}
			if ok {
				fmt.Fprintf(cmd.OutOrStdout(), "next room: %s (%s)\n", next.ID, next.Name)
			}
			return nil
		},
	}
}

func newThemeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:       "theme [light|dark]",
		Short:     "Set the color theme, or toggle it",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{string(storage.ThemeLight), string(storage.ThemeDark)},
		RunE: func(cmd *cobra.Command, args []string) error {
			prefs, _, err := opts.openPrefs()
			if err != nil {
				return err
			}
			defer func() { _ = prefs.Close() }()

			var theme storage.Theme
			if len(args) == 1 {
				theme = storage.Theme(args[0])
				err = prefs.SetTheme(theme)
			} else {
				theme, err = prefs.ToggleTheme()
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), theme)
			return nil
		},
	}
}

func newSoundCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:       "sound [on|off]",
		Short:     "Show or change the notification sound setting",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			prefs, _, err := opts.openPrefs()
			if err != nil {
				return err
			}
			defer func() { _ = prefs.Close() }()

			if len(args) == 1 {
				switch args[0] {
				case "on", "off":
					if err := prefs.SetSoundEnabled(args[0] == "on"); err != nil {
						return err
					}
				default:
					return fmt.Errorf("expected on or off, got %q", args[0])
				}
			}
			enabled, err := prefs.SoundEnabled()
			if err != nil {
				return err
			}
			if enabled {
				fmt.Fprintln(cmd.OutOrStdout(), "on")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "off")
			}
			return nil
		},
	}
}

func newLogoutCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the remembered user name",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			prefs, _, err := opts.openPrefs()
			if err != nil {
				return err
			}
			defer func() { _ = prefs.Close() }()
			return prefs.ClearUserName()
		},
	}
}

// installHint suggests a desktop shortcut at most once a day.
func installHint(term *terminal, prefs *storage.Prefs, log *slog.Logger) {
	show, err := prefs.ShouldShowInstallPrompt()
	if err != nil {
		log.Warn("failed to read install prompt state", "err", err)
		return
	}
	if !show {
		return
	}
	term.printf("tip: add hchat to your launcher to get back to this room quickly\n")
	if err := prefs.DismissInstallPrompt(); err != nil {
		log.Warn("failed to record install prompt", "err", err)
	}
}

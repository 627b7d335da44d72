// Command voiceprint enrolls the user's voice with a speaker recognition
// service.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/alkime/voiceprint/internal/audio"
	"github.com/alkime/voiceprint/internal/keyring"
)

// Globals are flags shared by every command.
type Globals struct {
	Simulate bool   `flag:"" help:"Use an in-process speaker recognition service instead of the remote API"`
	DataDir  string `flag:"" name:"data-dir" type:"path" help:"Data directory (default: ~/Documents/Alkime/Voiceprint)"`
}

// CLI defines the voiceprint command structure.
type CLI struct {
	Globals

	// Default TUI command (runs when no subcommand given)
	Enroll EnrollCmd `cmd:"" default:"1" help:"Enroll your voice (terminal UI)"`

	// Subcommands
	Devices DevicesCmd `cmd:"" help:"List available audio devices"`
	Phrases PhrasesCmd `cmd:"" help:"List the phrases accepted for enrollment"`
	Profile ProfileCmd `cmd:"" help:"Inspect or reset the verification profile"`
	Config  ConfigCmd  `cmd:"" help:"Manage configuration"`
}

// DevicesCmd lists available audio devices.
type DevicesCmd struct{}

// Run executes the devices command.
func (dcmd *DevicesCmd) Run() error {
	slog.Info("Enumerating audio devices...")

	adev := audio.NewDevice(nil)
	devices, err := adev.EnumerateDevices(context.Background())
	if err != nil {
		return fmt.Errorf("failed to enumerate audio devices: %w", err)
	}

	for _, dev := range devices {
		slog.Info("Audio Device",
			"name", dev.Name,
			"isDefault", dev.IsDefault,
			"formatCount", dev.FormatCount,
			"formats", dev.Formats,
		)
	}

	return nil
}

// PhrasesCmd prints the enrollment phrases.
type PhrasesCmd struct{}

// Run executes the phrases command.
func (c *PhrasesCmd) Run(g *Globals) error {
	a, err := newApp(g, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	svc, err := a.service()
	if err != nil {
		return err
	}

	phrases, err := svc.ListPhrases(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list phrases: %w", err)
	}

	for _, phrase := range phrases {
		fmt.Println(phrase)
	}

	return nil
}

// ProfileCmd groups profile subcommands.
type ProfileCmd struct {
	Show   ProfileShowCmd   `cmd:"" help:"Show the verification profile and enrollment progress"`
	Reset  ProfileResetCmd  `cmd:"" help:"Discard enrollment progress"`
	Forget ProfileForgetCmd `cmd:"" help:"Forget the locally stored profile id"`
}

// ProfileShowCmd resolves and prints the active profile.
type ProfileShowCmd struct{}

// Run executes the profile show command. A profile is created if none is
// stored yet.
func (c *ProfileShowCmd) Run(g *Globals) error {
	a, err := newApp(g, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	svc, err := a.service()
	if err != nil {
		return err
	}

	persist, err := a.persistence()
	if err != nil {
		return err
	}

	store, err := a.profiles(svc, persist)
	if err != nil {
		return err
	}

	p, err := store.Resolve(context.Background())
	if err != nil {
		return fmt.Errorf("failed to resolve profile: %w", err)
	}

	fmt.Printf("profile:   %s\n", p.ID)
	fmt.Printf("remaining: %d\n", p.RemainingEnrollments)

	if p.RemainingEnrollments == 0 {
		fmt.Println("status:    enrolled")
	} else {
		fmt.Println("status:    enrolling")
	}

	return nil
}

// ProfileResetCmd resets enrollment progress for the active profile.
type ProfileResetCmd struct{}

// Run executes the profile reset command.
func (c *ProfileResetCmd) Run(g *Globals) error {
	ctx := context.Background()

	a, err := newApp(g, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	svc, err := a.service()
	if err != nil {
		return err
	}

	persist, err := a.persistence()
	if err != nil {
		return err
	}

	store, err := a.profiles(svc, persist)
	if err != nil {
		return err
	}

	if _, err := store.Resolve(ctx); err != nil {
		return fmt.Errorf("failed to resolve profile: %w", err)
	}

	p, err := store.Reset(ctx)
	if err != nil {
		return fmt.Errorf("failed to reset profile: %w", err)
	}

	fmt.Printf("profile %s reset, %d enrollment(s) remaining\n", p.ID, p.RemainingEnrollments)

	return nil
}

// ProfileForgetCmd clears the stored profile id; the next enrollment creates
// a new profile.
type ProfileForgetCmd struct{}

// Run executes the profile forget command.
func (c *ProfileForgetCmd) Run(g *Globals) error {
	a, err := newApp(g, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	persist, err := a.persistence()
	if err != nil {
		return err
	}

	cl, ok := persist.(clearer)
	if !ok {
		return fmt.Errorf("profile store %q keeps nothing to forget", a.cfg.ProfileStore)
	}

	if err := cl.Clear(context.Background()); err != nil {
		return fmt.Errorf("failed to forget profile: %w", err)
	}

	fmt.Println("stored profile id removed")

	return nil
}

// ConfigCmd groups configuration-related subcommands.
type ConfigCmd struct {
	SetKey   SetKeyCmd   `cmd:"" help:"Store an API key in system keychain"`
	ListKeys ListKeysCmd `cmd:"" name:"list-keys" help:"Show which API keys are configured"`
}

// SetKeyCmd stores an API key in the system keychain.
type SetKeyCmd struct {
	Service string `arg:"" enum:"speaker-recognition,openai" help:"Service name (speaker-recognition or openai)"`
	Secret  string `arg:"" help:"API key value"`
}

// Run executes the set-key command.
func (c *SetKeyCmd) Run() error {
	if strings.TrimSpace(c.Secret) == "" {
		return errors.New("API key cannot be empty")
	}

	apiKey, err := keyring.APIKeyFromServiceName(c.Service)
	if err != nil {
		return fmt.Errorf("invalid service: %w", err)
	}

	if err := keyring.Set(apiKey, c.Secret); err != nil {
		return fmt.Errorf("failed to store API key: %w", err)
	}

	fmt.Printf("%s API key stored in keychain\n", c.Service)

	return nil
}

// ListKeysCmd shows which API keys are configured.
type ListKeysCmd struct{}

// Run executes the list-keys command.
//
//nolint:unparam // error return required by Kong interface
func (c *ListKeysCmd) Run() error {
	missing := false

	for _, apiKey := range keyring.AllAPIKeys() {
		if keyring.IsSet(apiKey) {
			fmt.Printf("%s: configured\n", apiKey.DisplayName())
		} else {
			fmt.Printf("%s: not set\n", apiKey.DisplayName())
			missing = true
		}
	}

	if missing {
		fmt.Println("\nRun 'voiceprint config set-key <service> <key>' to configure.")
		fmt.Println("The OpenAI key is optional; it enables checking phrases before submission.")
	}

	return nil
}

func main() {
	// Set up text-based logger for CLI output
	//nolint:exhaustruct // Using default values for other HandlerOptions fields
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	slog.SetDefault(slog.New(handler))

	cli := &CLI{} //nolint:exhaustruct // Kong fills in command fields
	ctx := kong.Parse(cli,
		kong.Name("voiceprint"),
		kong.Description("Enroll your voice for speaker verification."),
		kong.UsageOnError(),
	)
	err := ctx.Run(&cli.Globals)
	ctx.FatalIfErrorf(err)
	os.Exit(0)
}

// internal/browser/options.go
package browser

import (
	"fmt"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"github.com/chromedp/chromedp"
	"github.com/mitchellh/go-homedir"

	"github.com/xkilldash9x/scrapeflow/internal/config"
)

// LaunchOptions tunes one browser process. Zero fields take the pool defaults.
type LaunchOptions struct {
	// UserDataDir persists the profile. It is only used for headed browsers.
	UserDataDir    string
	UserAgent      string
	ViewportWidth  int64
	ViewportHeight int64
	DefaultTimeout time.Duration
	ExecPath       string
	Args           []string
	// KeepWarm parks the browser on about:blank when the session is
	// destroyed instead of closing it.
	KeepWarm bool
}

// defaultLaunchOptions derives launch defaults from configuration.
func defaultLaunchOptions(cfg config.BrowserConfig) LaunchOptions {
	return LaunchOptions{
		ViewportWidth:  cfg.ViewportWidth,
		ViewportHeight: cfg.ViewportHeight,
		DefaultTimeout: cfg.DefaultTimeout,
		ExecPath:       cfg.ExecPath,
		Args:           cfg.Args,
	}
}

// resolveLaunchOptions fills the zero fields of opts from defaults.
func resolveLaunchOptions(opts, defaults LaunchOptions) (LaunchOptions, error) {
	if err := mergo.Merge(&opts, defaults); err != nil {
		return LaunchOptions{}, fmt.Errorf("failed to merge launch options: %w", err)
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 30 * time.Second
	}
	if opts.ViewportWidth <= 0 || opts.ViewportHeight <= 0 {
		opts.ViewportWidth, opts.ViewportHeight = 1920, 1080
	}
	return opts, nil
}

// slotUserDataDir returns the persisted profile directory of a slot.
func slotUserDataDir(root string, slot int) (string, error) {
	expanded, err := homedir.Expand(root)
	if err != nil {
		return "", fmt.Errorf("failed to expand user data root %q: %w", root, err)
	}
	return filepath.Join(expanded, fmt.Sprintf("slot-%d", slot)), nil
}

// expandPath expands a leading ~ in path.
func expandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	return homedir.Expand(path)
}

// allocatorOptions builds the exec allocator options of one browser process.
func allocatorOptions(headless bool, opts LaunchOptions) []chromedp.ExecAllocatorOption {
	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	allocOpts = append(allocOpts,
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("headless", headless),
		chromedp.WindowSize(int(opts.ViewportWidth), int(opts.ViewportHeight)),
	)
	if headless {
		allocOpts = append(allocOpts, chromedp.Flag("hide-scrollbars", true), chromedp.Flag("mute-audio", true))
	} else if opts.UserDataDir != "" {
		allocOpts = append(allocOpts, chromedp.UserDataDir(opts.UserDataDir))
	}
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}
	for _, arg := range opts.Args {
		name, value := splitArg(arg)
		allocOpts = append(allocOpts, chromedp.Flag(name, value))
	}
	return allocOpts
}

// splitArg turns "--name=value" or "--name" into a chromedp flag.
func splitArg(arg string) (string, any) {
	for len(arg) > 0 && arg[0] == '-' {
		arg = arg[1:]
	}
	for i := 0; i < len(arg); i++ {
		if arg[i] == '=' {
			return arg[:i], arg[i+1:]
		}
	}
	return arg, true
}

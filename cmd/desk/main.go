// desk 国债收益率曲线与订单撮合服务入口。
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"treasury-desk/config"
	"treasury-desk/internal/clock"
	"treasury-desk/internal/container"
	"treasury-desk/pricing"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

var (
	cfg        config.AppConfig
	configPath string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "desk",
	Short:         "Treasury yield curve service and order desk",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		// 默认路径不存在时使用内置默认配置；显式指定的路径必须存在
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config") {
			cfg = config.Default()
			configPath = ""
			return nil
		}
		loaded, err := config.LoadWithEnvOverrides(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
		configPath = path
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "configs/config.yaml", "配置文件路径")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(curveCmd)
	rootCmd.AddCommand(warmCmd)
	rootCmd.AddCommand(priceCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "desk %s\n  commit:  %s\n  built:   %s\n", version, commit, date)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		var c *container.Container
		if configPath != "" {
			var err error
			if c, err = container.New(configPath); err != nil {
				return err
			}
		} else {
			c = container.NewWithConfig(cfg)
		}
		if err := c.Build(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := c.Start(ctx); err != nil {
			_ = c.Stop()
			return err
		}
		<-ctx.Done()
		return c.Stop()
	},
}

// oneShot 构建不启动监听的容器，供一次性子命令使用。
func oneShot() (*container.Container, error) {
	c := container.NewWithConfig(cfg)
	if err := c.Build(); err != nil {
		return nil, err
	}
	return c, nil
}

var curveCmd = &cobra.Command{
	Use:   "curve [YYYY-MM-DD]",
	Short: "Print the yield curve for a date (default today)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		day := clock.Today(clock.System)
		if len(args) == 1 {
			d, err := time.Parse(time.DateOnly, args[0])
			if err != nil {
				return fmt.Errorf("invalid date %q: %w", args[0], err)
			}
			day = d
		}

		c, err := oneShot()
		if err != nil {
			return err
		}
		defer c.Stop()

		yc, err := c.Curves().Get(cmd.Context(), day)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(yc.Response())
	},
}

var warmCmd = &cobra.Command{
	Use:   "warm <from YYYY-MM> <to YYYY-MM>",
	Short: "Backfill month-end curves for a month range",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dates, err := monthEnds(args[0], args[1], clock.Today(clock.System))
		if err != nil {
			return err
		}

		c, err := oneShot()
		if err != nil {
			return err
		}
		defer c.Stop()

		curves, err := c.Curves().Warm(cmd.Context(), dates...)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for i, yc := range curves {
			fmt.Fprintf(out, "%s -> %s (%s, %d points)\n",
				dates[i].Format(time.DateOnly), yc.Date.Format(time.DateOnly), yc.Source, len(yc.Points))
		}
		return nil
	},
}

// monthEnds 返回 [from, to] 每个月的最后一天，不超过 today。
func monthEnds(from, to string, today time.Time) ([]time.Time, error) {
	start, err := time.Parse("2006-01", from)
	if err != nil {
		return nil, fmt.Errorf("invalid month %q: %w", from, err)
	}
	end, err := time.Parse("2006-01", to)
	if err != nil {
		return nil, fmt.Errorf("invalid month %q: %w", to, err)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("range %s..%s is empty", from, to)
	}
	var out []time.Time
	for m := start; !m.After(end); m = m.AddDate(0, 1, 0) {
		last := m.AddDate(0, 1, -1)
		if last.After(today) {
			last = today
		}
		if last.Before(m) {
			break
		}
		out = append(out, last)
	}
	return out, nil
}

var priceCmd = &cobra.Command{
	Use:     "price <face> <yield%> <term>",
	Short:   "Price a bill or note from face value, yield and term",
	Example: `  desk price 1000 4.5 "3 Mo"`,
	Args:    cobra.ExactArgs(3),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		face, err := decimal.NewFromString(args[0])
		if err != nil {
			return fmt.Errorf("invalid face value %q: %w", args[0], err)
		}
		yield, err := decimal.NewFromString(args[1])
		if err != nil {
			return fmt.Errorf("invalid yield %q: %w", args[1], err)
		}
		p, err := pricing.Price(face, yield, args[2])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), p.StringFixed(2))
		return nil
	},
}

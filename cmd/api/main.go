package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"stakeplay-backend/internal/config"
	"stakeplay-backend/internal/logger"
	"stakeplay-backend/internal/middleware"
	"stakeplay-backend/internal/models"
	"stakeplay-backend/internal/services"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string
	root := &cobra.Command{
		Use:           "stakeplay",
		Short:         "Stake game settlement engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment")

	load := func() (*config.Config, error) {
		cfg, err := config.Load(envFile)
		if err != nil {
			return nil, err
		}
		initLogger(cfg.LogLevel)
		return cfg, nil
	}

	root.AddCommand(
		serveCmd(load),
		sweepCmd(load),
		drawCmd(load),
		distributeROICmd(load),
		distributeClubCmd(load),
		resumeDistributionsCmd(load),
		verifyCmd(load),
	)
	root.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return fmt.Errorf("%w\n%s", err, c.UsageString())
	})
	return wrapErrors(root)
}

// wrapErrors logs a failing subcommand through the structured logger, since
// cobra's own error printing is silenced.
func wrapErrors(root *cobra.Command) *cobra.Command {
	for _, c := range root.Commands() {
		run := c.RunE
		if run == nil {
			continue
		}
		c.RunE = func(cmd *cobra.Command, args []string) error {
			err := run(cmd, args)
			if err != nil {
				logger.Error("Command failed", "command", cmd.Name(), "error", err)
			}
			return err
		}
	}
	return root
}

type loader func() (*config.Config, error)

func withApp(load loader, fn func(cmd *cobra.Command, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, err := load()
		if err != nil {
			return err
		}
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd, a)
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func serveCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket API",
		RunE: withApp(load, func(cmd *cobra.Command, a *app) error {
			ctx := cmd.Context()
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			if _, err := a.jackpot.EnsureOpenRound(ctx); err != nil {
				return fmt.Errorf("open jackpot round: %w", err)
			}
			go a.engine.RunSweeper(ctx, a.cfg.SweepInterval)
			go a.dist.RunResumer(ctx, a.cfg.ResumeInterval, a.cfg.ResumeAfter)

			srv := &http.Server{
				Addr:    ":" + a.cfg.Port,
				Handler: a.router(),
			}
			errCh := make(chan error, 1)
			go func() {
				logger.Info("Server starting", "port", a.cfg.Port, "env", a.cfg.Env)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			logger.Info("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		}),
	}
}

func (a *app) router() *gin.Engine {
	if a.cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	jwtService := services.NewJWTService(a.cfg)
	api := router.Group("/api")
	api.Use(middleware.AuthMiddleware(jwtService))
	if a.redis != nil {
		api.Use(middleware.RateLimitMiddleware(a.redis, middleware.DefaultLimits(a.cfg.RateLimitBets)))
	}
	a.handlers().Register(api)
	return router
}

func sweepCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire and refund overdue commitments once",
		RunE: withApp(load, func(cmd *cobra.Command, a *app) error {
			ctx := cmd.Context()
			n, err := a.engine.Sweep(ctx)
			if err != nil {
				return err
			}
			logger.Info("Sweep complete", "expired", n)
			return nil
		}),
	}
}

func drawCmd(load loader) *cobra.Command {
	var roundID string
	cmd := &cobra.Command{
		Use:   "draw",
		Short: "Draw a jackpot round",
		RunE: withApp(load, func(cmd *cobra.Command, a *app) error {
			ctx := cmd.Context()
			if roundID == "" {
				round, err := a.jackpot.EnsureOpenRound(ctx)
				if err != nil {
					return err
				}
				roundID = round.ID
			}
			round, err := a.jackpot.ExecuteDraw(ctx, roundID)
			if err != nil {
				return err
			}
			return printJSON(cmd, round)
		}),
	}
	cmd.Flags().StringVar(&roundID, "round", "", "round id (default: the open round)")
	return cmd
}

func distributeROICmd(load loader) *cobra.Command {
	var day string
	cmd := &cobra.Command{
		Use:   "distribute-roi",
		Short: "Pay ROI-on-ROI commissions from a day's protection credits",
		RunE: withApp(load, func(cmd *cobra.Command, a *app) error {
			ctx := cmd.Context()
			if day == "" {
				day = models.DayKey(time.Now().UTC().AddDate(0, 0, -1))
			}
			sums, err := a.dist.DistributeROI(ctx, day)
			logger.Info("ROI distributed", "day", day, "events", len(sums))
			if err != nil {
				return err
			}
			return printJSON(cmd, sums)
		}),
	}
	cmd.Flags().StringVar(&day, "day", "", "UTC day as YYYY-MM-DD (default: yesterday)")
	return cmd
}

func distributeClubCmd(load loader) *cobra.Command {
	var period, pool string
	cmd := &cobra.Command{
		Use:   "distribute-club",
		Short: "Split a club pool across qualifying ranks",
		RunE: withApp(load, func(cmd *cobra.Command, a *app) error {
			ctx := cmd.Context()
			amount, err := decimal.NewFromString(pool)
			if err != nil {
				return fmt.Errorf("invalid --pool: %w", err)
			}
			if period == "" {
				period = time.Now().UTC().Format("2006-01")
			}
			members, err := a.dist.DistributeClub(ctx, period, amount)
			if err != nil {
				return err
			}
			logger.Info("Club distributed", "period", period, "members", len(members))
			return printJSON(cmd, members)
		}),
	}
	cmd.Flags().StringVar(&period, "period", "", "period label (default: current UTC month)")
	cmd.Flags().StringVar(&pool, "pool", "", "pool amount to split")
	_ = cmd.MarkFlagRequired("pool")
	return cmd
}

func resumeDistributionsCmd(load loader) *cobra.Command {
	var minAge time.Duration
	cmd := &cobra.Command{
		Use:   "resume-distributions",
		Short: "Finish commission walks that stopped partway",
		RunE: withApp(load, func(cmd *cobra.Command, a *app) error {
			n, err := a.dist.Resume(cmd.Context(), minAge)
			logger.Info("Distributions resumed", "completed", n)
			return err
		}),
	}
	cmd.Flags().DurationVar(&minAge, "min-age", 0, "skip walks checkpointed more recently than this")
	return cmd
}

func verifyCmd(load loader) *cobra.Command {
	var (
		req     models.VerifyRequest
		variant string
		pick    string
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Recompute a game result from its revealed seeds",
		RunE: withApp(load, func(cmd *cobra.Command, a *app) error {
			req.GameVariant = models.Variant(variant)
			if pick != "" {
				req.PickedNumber = json.RawMessage(pick)
			}
			res, err := a.engine.Verify(&req)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		}),
	}
	f := cmd.Flags()
	f.StringVar(&req.ServerSeed, "server-seed", "", "revealed server seed")
	f.StringVar(&req.ServerSeedHash, "server-seed-hash", "", "hash published at commit")
	f.StringVar(&req.ClientSeed, "client-seed", "", "client seed")
	f.Int64Var(&req.Nonce, "nonce", 0, "client nonce")
	f.Int64Var(&req.Sequence, "sequence", 0, "account sequence")
	f.StringVar(&variant, "variant", "", "dice, spin, matrix or crash")
	f.StringVar(&pick, "pick", "", "picked number as JSON, e.g. 7 or [1,2]")
	for _, name := range []string{"server-seed", "server-seed-hash", "client-seed", "variant"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

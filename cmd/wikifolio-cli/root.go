package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/Checker-Finance/wikifolio-adapter/internal/config"
	"github.com/Checker-Finance/wikifolio-adapter/internal/rate"
	internalsecrets "github.com/Checker-Finance/wikifolio-adapter/internal/secrets"
	"github.com/Checker-Finance/wikifolio-adapter/internal/service"
	"github.com/Checker-Finance/wikifolio-adapter/internal/wikifolio"
	"github.com/Checker-Finance/wikifolio-adapter/pkg/logger"
	"github.com/Checker-Finance/wikifolio-adapter/pkg/secrets"
)

// rootConfig is shared by every subcommand.
type rootConfig struct {
	cfg     *config.Config
	locale  string
	timeout time.Duration
	svc     *service.Service
}

func newRootCmd() *cobra.Command {
	rc := &rootConfig{}

	cmd := &cobra.Command{
		Use:   "wikifolio",
		Short: "Query wikifolios and manage virtual orders from the command line",
		Long: `wikifolio talks to wikifolio.com with the account configured through
WIKIFOLIO_EMAIL and WIKIFOLIO_PASSWORD (or the AWS secret named by
WIKIFOLIO_SECRET_NAME). Every command prints JSON.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return rc.init()
		},
	}

	cmd.PersistentFlags().StringVar(&rc.locale, "locale", "", "language/country, e.g. de/de or en/int")
	cmd.PersistentFlags().DurationVar(&rc.timeout, "timeout", 60*time.Second, "overall command timeout")

	cmd.AddCommand(
		newWikifolioCmd(rc),
		newPriceCmd(rc),
		newPortfolioCmd(rc),
		newTradesCmd(rc),
		newSearchCmd(rc),
		newUserCmd(rc),
		newOrdersCmd(rc),
		newPlaceCmd(rc, wikifolio.SideBuy),
		newPlaceCmd(rc, wikifolio.SideSell),
		newCancelCmd(rc),
	)
	return cmd
}

func (rc *rootConfig) init() error {
	rc.cfg = config.Load()
	if rc.locale != "" {
		rc.cfg.Language, rc.cfg.Country = config.SplitLocale(rc.locale)
	}
	logger.Init(rc.cfg.ServiceName+"-cli", rc.cfg.Env, rc.cfg.LogLevel)

	creds, err := rc.credentials()
	if err != nil {
		return err
	}

	client, err := wikifolio.New(wikifolio.Options{
		BaseURL:      rc.cfg.BaseURL,
		Language:     rc.cfg.Language,
		Country:      rc.cfg.Country,
		Credentials:  creds,
		PageSize:     rc.cfg.PageSize,
		SessionTTL:   rc.cfg.SessionTTL,
		QuoteTimeout: rc.cfg.QuoteTimeout,
		RetryMax:     rc.cfg.RetryMax,
		Rate: rate.Config{
			RequestsPerSecond: rc.cfg.RateLimit,
			Burst:             rc.cfg.RateBurst,
			Cooldown:          2 * time.Second,
		},
		Logger: logger.Named("wikifolio"),
	})
	if err != nil {
		return err
	}
	rc.svc = service.New(logger.Named("service"), client, nil, nil, nil)
	return nil
}

func (rc *rootConfig) credentials() (wikifolio.CredentialSource, error) {
	if rc.cfg.HasStaticCredentials() {
		return wikifolio.StaticCredentials{Email: rc.cfg.Email, Password: rc.cfg.Password}, nil
	}
	provider, err := secrets.NewAWSProvider(rc.cfg.AWSRegion)
	if err != nil {
		return nil, fmt.Errorf("no WIKIFOLIO_EMAIL/WIKIFOLIO_PASSWORD and AWS unavailable: %w", err)
	}
	cache := secrets.NewCache[secrets.Credentials](rc.cfg.CredentialsTTL)
	return internalsecrets.NewCredentialsResolver(logger.Named("secrets"), rc.cfg.Env, rc.cfg.SecretName, provider, cache), nil
}

// withTimeout bounds a command by --timeout.
func (rc *rootConfig) withTimeout(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), rc.timeout)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/lukeocodes/mod-gpt/internal/api/auth"
	"github.com/lukeocodes/mod-gpt/internal/config"
)

// TokenCommand returns the command that mints operator API tokens
func TokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Mint an operator token for the API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "operator",
				Usage:    "Operator name recorded on audit entries",
				Required: true,
			},
		},
		Action: runToken,
	}
}

func runToken(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.API.JWTSecret == "" {
		return fmt.Errorf("api jwt_secret is required to mint tokens")
	}

	token, expiresAt, err := auth.NewTokenService(cfg.API.JWTSecret).IssueToken(c.String("operator"))
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}

	fmt.Println(token)
	fmt.Printf("Expires at %s\n", expiresAt.Format("2006-01-02 15:04:05 MST"))
	return nil
}

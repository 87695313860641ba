package main

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"lambda-route-proxy/internal/auth"
	"lambda-route-proxy/internal/config"
)

type tokenOptions struct {
	subject string
	email   string
	roles   []string
	ttl     time.Duration
}

func newTokenCmd() *cobra.Command {
	opts := tokenOptions{}
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a development token with JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("JWT_SECRET is required to sign tokens")
			}

			signer, err := auth.NewHMACAuthorizer(auth.HMACConfig{
				Secret:        cfg.Auth.JWTSecret,
				Issuer:        cfg.Auth.Issuer,
				Audience:      cfg.Auth.Audience,
				TokenDuration: opts.ttl,
			})
			if err != nil {
				return err
			}

			claims := jwt.MapClaims{
				"sub":            opts.subject,
				"email":          opts.email,
				"email_verified": true,
			}
			if len(opts.roles) > 0 {
				claims["roles"] = opts.roles
			}
			token, err := signer.Sign(claims)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&opts.subject, "sub", "dev-user", "subject claim")
	fs.StringVar(&opts.email, "email", "dev@example.com", "email claim")
	fs.StringSliceVar(&opts.roles, "role", nil, "role claim, repeatable")
	fs.DurationVar(&opts.ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

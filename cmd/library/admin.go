package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/debemdeboas/the-library/internal/auth"
	"github.com/spf13/cobra"
)

func adminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Admin key tools",
	}

	var keyPath string
	sign := &cobra.Command{
		Use:   "sign [challenge...]",
		Short: "Sign admin login challenges with an Ed25519 private key",
		Long: `Sign the base64 challenges shown on the admin login form. Challenges can be
passed as arguments; without arguments they are read one per line from stdin
until EOF or "quit".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			pem, err := os.ReadFile(keyPath)
			if err != nil {
				return fmt.Errorf("read private key: %w", err)
			}
			priv, err := auth.ParsePrivateKey(pem)
			if err != nil {
				return fmt.Errorf("load private key: %w", err)
			}

			signOne := func(challenge string) {
				signature, err := auth.Sign(priv, challenge)
				if err != nil {
					fmt.Fprintln(cmd.OutOrStdout(), errorStyle.Render("Error: "+err.Error()))
					return
				}
				fmt.Fprintln(cmd.OutOrStdout(), outputStyle.Render(signature))
			}

			if len(args) > 0 {
				for _, a := range args {
					signOne(a)
				}
				return nil
			}
			return signLoop(cmd.InOrStdin(), cmd.OutOrStdout(), signOne)
		},
	}
	sign.Flags().StringVarP(&keyPath, "key", "k", "privkey.pem", "PEM encoded PKCS#8 Ed25519 private key")

	cmd.AddCommand(sign)
	return cmd
}

func signLoop(in io.Reader, out io.Writer, sign func(string)) error {
	fmt.Fprintln(out, "Enter challenges one by one. Type 'quit' to exit.")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, promptStyle.Render("Enter challenge (base64): "))
		if !scanner.Scan() {
			break
		}

		challenge := strings.TrimSpace(scanner.Text())
		if challenge == "" {
			continue
		}
		if challenge == "quit" {
			break
		}
		sign(challenge)
	}
	return scanner.Err()
}

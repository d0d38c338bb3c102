// authcli signs in against a running talentauth server and prints the current user.
//
//	authcli -url http://localhost:8080 -email a@b.com
//	authcli -url http://localhost:8080 -wallet 0xabc...
//
// The password is read from the terminal when -password is omitted.
// For wallet login the OTP is read from stdin when -code is omitted.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"golang.org/x/term"

	"talentauth/internal/client"
	"talentauth/internal/logging"
	"talentauth/internal/usecase"
)

// テストで差し替える
var readPassword = term.ReadPassword

type options struct {
	url      string
	email    string
	password string
	wallet   string
	code     string
	logout   bool
	timeout  time.Duration
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "authcli:", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("authcli", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&o.url, "url", "http://localhost:8080", "server base URL")
	fs.StringVar(&o.email, "email", "", "email for password login")
	fs.StringVar(&o.password, "password", "", "password (prompted when empty)")
	fs.StringVar(&o.wallet, "wallet", "", "wallet address for OTP login")
	fs.StringVar(&o.code, "code", "", "OTP code (read from stdin when empty)")
	fs.BoolVar(&o.logout, "logout", false, "log out before exiting")
	fs.DurationVar(&o.timeout, "timeout", 30*time.Second, "per request timeout")

	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if (o.email == "") == (o.wallet == "") {
		return o, errors.New("exactly one of -email or -wallet is required")
	}
	return o, nil
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer, stderr io.Writer) error {
	o, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	log := logging.NewJSON(stderr, "warn")
	c := client.NewAPIClient(o.url,
		client.WithHTTPTimeout(o.timeout),
		client.WithCoordinatorOptions(
			client.WithLogger(log),
			client.WithSessionLost(func() { fmt.Fprintln(stderr, "session expired, please log in again") }),
		),
	)
	in := bufio.NewReader(stdin)

	if o.wallet != "" {
		err = walletLogin(ctx, c, o, in, stdout)
	} else {
		err = passwordLogin(ctx, c, o, stdout)
	}
	if err != nil {
		return err
	}

	me, err := c.Me(ctx)
	if err != nil {
		return err
	}
	if err := printJSON(stdout, me); err != nil {
		return err
	}

	if o.logout {
		return c.Logout(ctx)
	}
	return nil
}

func passwordLogin(ctx context.Context, c *client.APIClient, o options, stdout io.Writer) error {
	password := o.password
	if password == "" {
		fmt.Fprint(stdout, "Password: ")
		b, err := readPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(stdout)
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		password = string(b)
	}

	_, err := c.Login(ctx, o.email, password)
	return describe(err)
}

func walletLogin(ctx context.Context, c *client.APIClient, o options, in *bufio.Reader, stdout io.Writer) error {
	requires, err := c.InitiateWalletLogin(ctx, o.wallet)
	if err != nil {
		return describe(err)
	}
	if !requires {
		return errors.New("server did not issue an OTP")
	}

	code := o.code
	if code == "" {
		fmt.Fprint(stdout, "OTP code sent by email\n> ")
		line, err := in.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return fmt.Errorf("read code: %w", err)
		}
		code = strings.TrimSpace(line)
	}

	_, err = c.VerifyOtp(ctx, o.wallet, code)
	return describe(err)
}

// サーバーのエラーコードを人向けにする
func describe(err error) error {
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.Code {
	case "UNAUTHORIZED":
		return errors.New("invalid credentials")
	case "INVALID_OR_EXPIRED_OTP":
		return errors.New("invalid or expired code")
	case "NOT_FOUND":
		return errors.New("unknown wallet, register first")
	case "TOO_MANY_ATTEMPTS":
		return errors.New("too many attempts, try again later")
	case "UNCONFIGURED":
		return errors.New("server cannot send email right now")
	}
	return err
}

func printJSON(w io.Writer, v *usecase.UserDTO) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Command client is an interactive terminal client for the presence server.
//
// Lines typed on stdin are sent as chat messages; "/move X Y" sends a
// position update. Frames from other users are printed as they arrive.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/gopresence/internal/client"
	"github.com/Tyrowin/gopresence/internal/protocol"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: error loading .env file: %v\n", err)
	}

	cmd := &cli.Command{
		Name:  "presence-client",
		Usage: "chat and share positions with other presence clients",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: "127.0.0.1:5000", Usage: "server address", Sources: cli.EnvVars("PRESENCE_SERVER_ADDR")},
			&cli.StringFlag{Name: "user", Usage: "name to join as (prompted when empty)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return run(ctx, cmd.String("addr"), cmd.String("user"), os.Stdin, os.Stdout)
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, addr, user string, in io.Reader, out io.Writer) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	input := bufio.NewScanner(in)
	if strings.TrimSpace(user) == "" {
		fmt.Fprint(out, "Username: ")
		if !input.Scan() {
			return errors.New("no user name given")
		}
		user = input.Text()
	}

	c, err := client.Dial(ctx, addr, user)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  /move x y   send your position")
	fmt.Fprintln(out, "  any text    send a chat message")
	fmt.Fprintln(out)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer stop()
		return c.Listen(func(f protocol.Frame) {
			fmt.Fprintln(out, client.Format(f))
		})
	})

	g.Go(func() error {
		<-gctx.Done()
		_ = c.Close()
		return nil
	})

	// Scanning stdin cannot be interrupted, so it runs outside the group
	// and the group ends when the connection does.
	go func() {
		for input.Scan() {
			err := c.SendLine(input.Text())
			switch {
			case err == nil, errors.Is(err, client.ErrEmptyLine):
			case errors.Is(err, client.ErrMoveUsage):
				fmt.Fprintln(out, err)
			default:
				fmt.Fprintf(out, "send failed: %v\n", err)
				stop()
				return
			}
		}
		stop()
	}()

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

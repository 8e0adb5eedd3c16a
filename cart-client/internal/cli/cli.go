// Package cli wires the cart façade into the cartctl command tree.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fjod/go_cart/cart-client/internal/facade"
	"github.com/fjod/go_cart/cart-client/internal/kv"
	"github.com/fjod/go_cart/cart-client/internal/localcart"
	"github.com/fjod/go_cart/cart-client/internal/remotecart"
	"github.com/fjod/go_cart/pkg/domain"
	"github.com/fjod/go_cart/pkg/logger"
)

const redisKeyPrefix = "cartctl:"

type options struct {
	server   string
	session  string
	token    string
	stateDir string
	redis    string
	strict   bool
	timeout  time.Duration
	logLevel string
}

// app is built once per invocation in PersistentPreRunE.
type app struct {
	cart    *facade.Facade
	log     *zap.Logger
	closers []func() error
}

func (a *app) close() {
	for _, c := range a.closers {
		_ = c()
	}
	_ = a.log.Sync()
}

// NewRootCommand returns the cartctl command tree writing results to out.
func NewRootCommand(out io.Writer) *cobra.Command {
	opts := &options{}
	a := &app{}

	root := &cobra.Command{
		Use:           "cartctl",
		Short:         "Shopping cart client with offline fallback",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			built, err := build(cmd.Context(), opts)
			if err != nil {
				return err
			}
			*a = *built
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.log != nil {
				a.close()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.server, "server", envOr("CART_SERVER_URL", "http://localhost:8080"), "cart service base URL")
	flags.StringVar(&opts.session, "session", os.Getenv("CART_SESSION_ID"), "guest session id (defaults to the local cart's session)")
	flags.StringVar(&opts.token, "token", os.Getenv("CART_TOKEN"), "customer bearer token")
	flags.StringVar(&opts.stateDir, "state", "", "directory for the local cart (defaults to the user cache dir)")
	flags.StringVar(&opts.redis, "redis", "", "keep the local cart in Redis at this address instead of on disk")
	flags.BoolVar(&opts.strict, "strict", false, "surface remote errors instead of falling back to the local cart")
	flags.DurationVar(&opts.timeout, "timeout", 5*time.Second, "remote request timeout")
	flags.StringVar(&opts.logLevel, "log-level", envOr("LOG_LEVEL", "error"), "log level")

	root.AddCommand(
		getCommand(a, out),
		addCommand(a, out),
		updateCommand(a, out),
		removeCommand(a, out),
		clearCommand(a, out),
		summaryCommand(a, out),
		loginCommand(a, out),
	)
	return root
}

func build(ctx context.Context, opts *options) (*app, error) {
	log, err := logger.New(opts.logLevel, "stderr")
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a := &app{log: log}

	store, err := openKV(a, opts)
	if err != nil {
		a.close()
		return nil, err
	}
	local := localcart.NewStore(store, localcart.WithLogger(log))

	session := opts.session
	if session == "" {
		guest, err := local.Get(ctx)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("read local cart: %w", err)
		}
		session = guest.SessionID
	}

	remote := remotecart.NewClient(opts.server,
		remotecart.WithHTTPClient(remotecart.NewHTTPClient(opts.timeout)),
		remotecart.WithSession(session),
		remotecart.WithToken(opts.token),
		remotecart.WithLogger(log),
	)

	var policy facade.Policy = facade.SilentFallback{Log: log}
	if opts.strict {
		policy = facade.FailFast{}
	}
	a.cart = facade.New(remote, local, facade.WithPolicy(policy), facade.WithLogger(log))
	return a, nil
}

func openKV(a *app, opts *options) (kv.Store, error) {
	if opts.redis != "" {
		client := redis.NewClient(&redis.Options{Addr: opts.redis})
		a.closers = append(a.closers, client.Close)
		return kv.NewRedisStore(client, redisKeyPrefix, 0), nil
	}

	dir := opts.stateDir
	if dir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("locate cache dir: %w", err)
		}
		dir = filepath.Join(base, "cartctl")
	}
	return kv.NewFileStore(dir)
}

func getCommand(a *app, out io.Writer) *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Show the current cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			get := a.cart.GetCart
			if refresh {
				get = a.cart.RefreshCart
			}
			cart, err := get(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(out, cart)
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "discard the cached snapshot and re-read")
	return cmd
}

func addCommand(a *app, out io.Writer) *cobra.Command {
	var (
		item  domain.NewItem
		price float64
	)
	cmd := &cobra.Command{
		Use:   "add <product-id>",
		Short: "Add a product to the cart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			item.ProductID = args[0]
			item.Price = domain.Amount(price)
			cart, err := a.cart.AddToCart(cmd.Context(), item)
			if err != nil {
				return err
			}
			return printJSON(out, cart)
		},
	}
	f := cmd.Flags()
	f.Float64Var(&price, "price", 0, "unit price")
	f.IntVarP(&item.Quantity, "quantity", "q", 1, "quantity")
	f.StringVar(&item.Name, "name", "", "display name")
	f.StringVar(&item.Color, "color", "", "color variant")
	f.StringVar(&item.Size, "size", "", "size variant")
	f.StringVar(&item.Image, "image", "", "image URL")
	return cmd
}

func updateCommand(a *app, out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "update <item-id> <quantity>",
		Short: "Set a line's quantity (0 removes it)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid quantity %q: %w", args[1], err)
			}
			cart, err := a.cart.UpdateCartItem(cmd.Context(), args[0], qty)
			if err != nil {
				return err
			}
			return printJSON(out, cart)
		},
	}
}

func removeCommand(a *app, out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <item-id>",
		Short: "Remove a line from the cart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cart, err := a.cart.RemoveFromCart(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(out, cart)
		},
	}
}

func clearCommand(a *app, out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Empty the cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cart, err := a.cart.ClearCart(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(out, cart)
		},
	}
}

func summaryCommand(a *app, out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Show item count and totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.cart.Summary(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(out, s)
		},
	}
}

func loginCommand(a *app, out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "login <token>",
		Short: "Merge the local guest cart into the customer's cart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cart, err := a.cart.MergeGuestCart(cmd.Context(), args[0])
			if err != nil {
				if errors.Is(err, facade.ErrMergeFailed) {
					return fmt.Errorf("%w (guest cart kept)", err)
				}
				return err
			}
			return printJSON(out, cart)
		},
	}
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

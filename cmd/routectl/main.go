// Command routectl manipulates the kernel routing table from the shell:
// single route operations, bulk applies from CIDR files, and a live view
// of route-table changes.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	routemanager "github.com/wesleywu/route-manager"
	"github.com/wesleywu/route-manager/internal/logger"
)

var (
	version = "1.0.0"

	gatewayFlag   string
	ifaceFlag     string
	metricFlag    uint32
	verboseMode   bool
	timeoutFlag   time.Duration
	concurrency   int
	deleteApplied bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "routectl",
		Short: "Kernel routing table control",
		Long:  `Add, delete and inspect kernel routes, apply CIDR lists in bulk, and watch the table change live.`,
	}

	addCmd := &cobra.Command{
		Use:   "add <destination/prefix>",
		Short: "Add a route",
		Args:  cobra.ExactArgs(1),
		RunE:  runAdd,
	}

	deleteCmd := &cobra.Command{
		Use:     "delete <destination/prefix>",
		Aliases: []string{"del"},
		Short:   "Delete a route",
		Args:    cobra.ExactArgs(1),
		RunE:    runDelete,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the routing table",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}

	findCmd := &cobra.Command{
		Use:   "find <address>",
		Short: "Find the route that would carry traffic to an address",
		Args:  cobra.ExactArgs(1),
		RunE:  runFind,
	}

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream route-table changes until interrupted",
		Args:  cobra.NoArgs,
		RunE:  runWatch,
	}

	applyCmd := &cobra.Command{
		Use:   "apply <cidr-file>",
		Short: "Add every network in a CIDR file through one gateway",
		Long:  `Read one CIDR per line (# comments and blank lines ignored), deduplicate by destination network, and add them concurrently. With --delete the networks are removed instead.`,
		Args:  cobra.ExactArgs(1),
		RunE:  runApply,
	}
	applyCmd.Flags().IntVar(&concurrency, "concurrency", routemanager.DefaultBatchConcurrency, "Concurrent route operations")
	applyCmd.Flags().BoolVar(&deleteApplied, "delete", false, "Delete the networks instead of adding them")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("routectl %s %s/%s\n", version, runtime.GOOS, runtime.GOARCH)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&gatewayFlag, "gateway", "g", "", "Next-hop address")
	rootCmd.PersistentFlags().StringVarP(&ifaceFlag, "interface", "i", "", "Outbound interface name")
	rootCmd.PersistentFlags().Uint32VarP(&metricFlag, "metric", "m", 0, "Route metric (lower wins)")
	rootCmd.PersistentFlags().BoolVarP(&verboseMode, "verbose", "v", false, "Verbose mode (debug level logging)")
	rootCmd.PersistentFlags().DurationVarP(&timeoutFlag, "timeout", "t", routemanager.DefaultTimeout, "Kernel response timeout")

	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(findCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newManager() (*routemanager.Manager, error) {
	m, err := routemanager.New()
	if err != nil {
		return nil, err
	}
	m.SetTimeout(timeoutFlag)
	if verboseMode {
		m.SetLogger(logger.New("debug"))
	}
	return m, nil
}

// parseRoute builds a route from the destination argument and the
// gateway/interface/metric flags.
func parseRoute(arg string) (routemanager.Route, error) {
	prefix, err := netip.ParsePrefix(arg)
	if err != nil {
		// A bare address means a host route.
		addr, addrErr := netip.ParseAddr(arg)
		if addrErr != nil {
			return routemanager.Route{}, fmt.Errorf("destination %q: %w", arg, err)
		}
		prefix = netip.PrefixFrom(addr, addr.BitLen())
	}

	r := routemanager.NewRoute(prefix.Addr(), prefix.Bits())
	if gatewayFlag != "" {
		gw, err := netip.ParseAddr(gatewayFlag)
		if err != nil {
			return routemanager.Route{}, fmt.Errorf("gateway %q: %w", gatewayFlag, err)
		}
		r = r.WithGateway(gw)
	}
	if ifaceFlag != "" {
		r = r.WithIfName(ifaceFlag)
	}
	if metricFlag != 0 {
		r = r.WithMetric(metricFlag)
	}
	return r, nil
}

func runAdd(_ *cobra.Command, args []string) error {
	r, err := parseRoute(args[0])
	if err != nil {
		return err
	}
	m, err := newManager()
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Add(r); err != nil {
		return err
	}
	fmt.Printf("added %s\n", r)
	return nil
}

func runDelete(_ *cobra.Command, args []string) error {
	r, err := parseRoute(args[0])
	if err != nil {
		return err
	}
	m, err := newManager()
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Delete(r); err != nil {
		return err
	}
	fmt.Printf("deleted %s\n", r)
	return nil
}

func runList(_ *cobra.Command, _ []string) error {
	m, err := newManager()
	if err != nil {
		return err
	}
	defer m.Close()

	filter := routemanager.Filter{}
	if ifaceFlag != "" {
		ifi, err := ifaceIndex(ifaceFlag)
		if err != nil {
			return err
		}
		filter.IfIndex = ifi
	}
	routes, err := m.Get(filter)
	if err != nil {
		return err
	}
	for _, r := range routes {
		fmt.Println(r)
	}
	return nil
}

func runFind(_ *cobra.Command, args []string) error {
	dest, err := netip.ParseAddr(args[0])
	if err != nil {
		return fmt.Errorf("address %q: %w", args[0], err)
	}
	m, err := newManager()
	if err != nil {
		return err
	}
	defer m.Close()

	r, err := m.Find(dest)
	if err != nil {
		return err
	}
	fmt.Println(r)
	return nil
}

// runWatch streams changes until SIGINT/SIGTERM. The signal handler and
// the listener loop run in one errgroup; whichever stops first tears the
// other down through the shared context and the shutdown handle.
func runWatch(_ *cobra.Command, _ []string) error {
	listener, err := routemanager.NewAsyncListener()
	if err != nil {
		return err
	}
	defer listener.Close()
	if verboseMode {
		listener.SetLogger(logger.New("debug"))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	handle := listener.ShutdownHandle()
	g.Go(func() error {
		<-ctx.Done()
		handle.Shutdown()
		return nil
	})
	g.Go(func() error {
		for {
			change, err := listener.Listen(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			fmt.Println(change)
		}
	})
	return g.Wait()
}

func runApply(_ *cobra.Command, args []string) error {
	networks, err := loadNetworks(args[0])
	if err != nil {
		return err
	}
	if gatewayFlag == "" && ifaceFlag == "" {
		return fmt.Errorf("apply needs --gateway or --interface")
	}

	var gw netip.Addr
	if gatewayFlag != "" {
		gw, err = netip.ParseAddr(gatewayFlag)
		if err != nil {
			return fmt.Errorf("gateway %q: %w", gatewayFlag, err)
		}
	}

	set := routemanager.NewRouteSet()
	for _, prefix := range networks {
		r := routemanager.NewRoute(prefix.Addr(), prefix.Bits())
		if gw.IsValid() {
			r = r.WithGateway(gw)
		}
		if ifaceFlag != "" {
			r = r.WithIfName(ifaceFlag)
		}
		set.Add(r)
	}

	m, err := newManager()
	if err != nil {
		return err
	}
	defer m.Close()

	action := "added"
	var result *routemanager.BatchResult
	if deleteApplied {
		action = "deleted"
		result, err = m.BatchDelete(set.Routes(), concurrency)
	} else {
		result, err = m.BatchAdd(set.Routes(), concurrency)
	}
	if result != nil {
		fmt.Printf("%s %d of %d routes (%d failed)\n", action, result.Succeeded, result.Total, result.Failed)
		for _, opErr := range result.Errors {
			fmt.Fprintf(os.Stderr, "  %v\n", opErr)
		}
	}
	return err
}

// loadNetworks reads one CIDR per line. Blank lines and # comments are
// skipped; anything else that does not parse fails the whole file.
func loadNetworks(path string) ([]netip.Prefix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var networks []netip.Prefix
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		prefix, err := netip.ParsePrefix(text)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		networks = append(networks, prefix.Masked())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return networks, nil
}

func ifaceIndex(name string) (int, error) {
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return 0, fmt.Errorf("interface %q: %w", name, err)
	}
	return ifi.Index, nil
}

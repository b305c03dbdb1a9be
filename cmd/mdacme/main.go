// The mdacme command line tool manages ManagedDomain records and drives them
// through ACME certificate acquisition and renewal, either one-shot via its
// subcommands or interactively via an ishell-based REPL.
//
// Grounded on cmd/acmeshell/main.go's flag-based option parsing and
// md_cmd_reg.c's add/list/drive command set.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/root360/mod-md/internal/store"
	"github.com/root360/mod-md/internal/types"
)

const (
	storeDefault     = "mdacme.store"
	directoryDefault = "https://acme-staging-v02.api.letsencrypt.org/directory"
	httpAddrDefault  = ":80"
	tlsAddrDefault   = ":443"
	dnsAddrDefault   = ""
)

type globalOptions struct {
	storeDir     string
	caURL        string
	caBundlePath string
	contacts     string
	httpAddr     string
	tlsAddr      string
	dnsAddr      string
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("mdacme", flag.ContinueOnError)
	opts := globalOptions{}
	fs.StringVar(&opts.storeDir, "store", storeDefault, "Directory holding persisted managed domain state")
	fs.StringVar(&opts.caURL, "ca", directoryDefault, "ACME directory URL for new managed domains")
	fs.StringVar(&opts.caBundlePath, "cabundle", "", "Optional additional CA bundle PEM for verifying the ACME server's HTTPS")
	fs.StringVar(&opts.contacts, "contacts", "", "Comma-separated contact email addresses for new managed domains")
	fs.StringVar(&opts.httpAddr, "httpAddr", httpAddrDefault, "Listen address for http-01 challenge responses, empty to disable")
	fs.StringVar(&opts.tlsAddr, "tlsAddr", tlsAddrDefault, "Listen address for tls-alpn-01 challenge responses, empty to disable")
	fs.StringVar(&opts.dnsAddr, "dnsAddr", dnsAddrDefault, "Listen address for dns-01 challenge responses, empty to disable")
	shellMode := fs.Bool("shell", false, "Drop into an interactive REPL instead of running one subcommand")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	s, err := store.NewFileStore(opts.storeDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mdacme: opening store %q: %v\n", opts.storeDir, err)
		return 1
	}

	if *shellMode {
		runShell(s, opts)
		return 0
	}

	rest := fs.Args()
	if len(rest) == 0 {
		usage(fs)
		return 2
	}

	switch rest[0] {
	case "add":
		err = cmdAdd(s, opts, rest[1:])
	case "list":
		err = cmdList(s, rest[1:])
	case "drive":
		err = cmdDrive(s, opts, rest[1:])
	default:
		fmt.Fprintf(os.Stderr, "mdacme: unknown subcommand %q\n", rest[0])
		usage(fs)
		return 2
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "mdacme: %v\n", err)
		var usageErr usageError
		if errors.As(err, &usageErr) {
			return 2
		}
		return 1
	}
	return 0
}

func usage(fs *flag.FlagSet) {
	fmt.Fprintln(os.Stderr, "usage: mdacme [flags] add <domain> [names...] | list | drive <name>")
	fs.PrintDefaults()
}

// usageError marks an error as a command-line usage mistake (missing or
// malformed arguments) rather than an ACME or storage failure, so run can
// choose exit code 2 instead of 1.
type usageError string

func (e usageError) Error() string { return string(e) }

func cmdAdd(s store.Store, opts globalOptions, args []string) error {
	if len(args) == 0 {
		return usageError("add requires a domain name")
	}
	name := args[0]
	names := args

	var contacts []string
	if opts.contacts != "" {
		contacts = strings.Split(opts.contacts, ",")
	}

	md := &types.ManagedDomain{
		Name:           name,
		Names:          names,
		Contacts:       contacts,
		CAURL:          opts.caURL,
		PrivateKeySpec: types.DefaultPrivateKeySpec,
	}
	if err := saveManagedDomain(s, md, true); err != nil {
		return err
	}
	fmt.Printf("added managed domain %q (names: %s)\n", name, strings.Join(names, ", "))
	return nil
}

func cmdList(s store.Store, _ []string) error {
	names, err := listManagedDomains(s)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Println("no managed domains")
		return nil
	}
	for _, name := range names {
		md, err := loadManagedDomain(s, name)
		if err != nil {
			fmt.Printf("%s\t<error: %v>\n", name, err)
			continue
		}
		status := "pending"
		if md.CertURL != "" {
			status = "certified"
		}
		fmt.Printf("%s\t%s\t%s\n", md.Name, status, strings.Join(md.Names, ","))
	}
	return nil
}

func cmdDrive(s store.Store, opts globalOptions, args []string) error {
	if len(args) == 0 {
		return usageError("drive requires a managed domain name")
	}
	if err := runDrive(s, opts, args[0]); err != nil {
		return err
	}
	fmt.Printf("managed domain %q driven successfully\n", args[0])
	return nil
}

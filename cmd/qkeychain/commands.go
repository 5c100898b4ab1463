package main

import (
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kardianos/qkeychain"
	"github.com/kardianos/qkeychain/qdef"
)

type rootOptions struct {
	configPath string
	data       string
	backend    string
	logLevel   string

	cfg *Config
	log *slog.Logger
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "qkeychain",
		Short:         "Store and query certificates, private keys and identities",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "YAML config file")
	cmd.PersistentFlags().StringVar(&opts.data, "data", "", "store location (overrides config and QKEYCHAIN_DATA)")
	cmd.PersistentFlags().StringVar(&opts.backend, "backend", "", "store backend: file, bolt, sqlite, memory or registry")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")

	cmd.AddCommand(
		newAddCommand(opts),
		newFindCommand(opts),
		newDeleteCommand(opts),
		newLabelCommand(opts),
		newResolveCommand(opts),
		newDumpCommand(opts),
	)
	return cmd
}

func (o *rootOptions) load(cmd *cobra.Command) error {
	bootLevel, err := parseLevel(o.logLevel)
	if err != nil {
		return usageError{err}
	}
	boot := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: bootLevel}))

	cfg, err := LoadConfig(o.configPath, boot)
	if err != nil {
		return usageError{err}
	}
	if o.data != "" {
		cfg.Data = o.data
	}
	if o.backend != "" {
		cfg.Backend = o.backend
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return usageError{err}
	}
	level, _ := parseLevel(cfg.LogLevel)
	o.cfg = cfg
	o.log = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	return nil
}

// withKeychain opens the configured keychain for the duration of fn.
func (o *rootOptions) withKeychain(fn func(k *qkeychain.Keychain) error) error {
	store, closer, err := openBackend(o.cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	tb, _ := qdef.ParseTieBreak(o.cfg.TieBreak)
	k, err := qkeychain.Open(qkeychain.Config{Store: store, TieBreak: tb, Logger: o.log})
	if err != nil {
		return err
	}
	defer k.Close()
	return fn(k)
}

func newAddCommand(opts *rootOptions) *cobra.Command {
	var (
		label    string
		appLabel string
		encoding string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a certificate, key or identity; prints its persistent reference",
	}
	cmd.PersistentFlags().StringVar(&label, "label", "", "display label (certificates default to the subject common name)")
	cmd.PersistentFlags().StringVar(&encoding, "encoding", "", "key encoding: pkcs1, sec1 or pkcs8 (default from PEM type, else auto)")

	add := func(cmd *cobra.Command, a qdef.Attributes) error {
		a.Label = label
		a.ReturnPersistentRef = true
		if appLabel != "" {
			b, err := hex.DecodeString(appLabel)
			if err != nil {
				return usageError{fmt.Errorf("application label: %w", err)}
			}
			a.ApplicationLabel = b
		}
		if encoding != "" {
			enc, err := qdef.ParseKeyEncoding(encoding)
			if err != nil {
				return usageError{err}
			}
			a.KeyEncoding = enc
		}
		return opts.withKeychain(func(k *qkeychain.Keychain) error {
			res, err := k.Add(a)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.PersistentRef)
			return nil
		})
	}

	certCmd := &cobra.Command{
		Use:   "cert <file>",
		Short: "Add a certificate (PEM or DER)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			der, _, err := readPayload(args[0])
			if err != nil {
				return err
			}
			return add(cmd, qdef.Attributes{Class: qdef.ClassCertificate, Value: der})
		},
	}
	keyCmd := &cobra.Command{
		Use:   "key <file>",
		Short: "Add a private key (PEM or DER)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			der, enc, err := readPayload(args[0])
			if err != nil {
				return err
			}
			return add(cmd, qdef.Attributes{Class: qdef.ClassKey, Value: der, KeyEncoding: enc})
		},
	}
	keyCmd.Flags().StringVar(&appLabel, "app-label", "", "hex application label (default: public key hash)")
	identityCmd := &cobra.Command{
		Use:   "identity <cert-file> <key-file>",
		Short: "Add a certificate and its private key together",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cert, _, err := readPayload(args[0])
			if err != nil {
				return err
			}
			key, enc, err := readPayload(args[1])
			if err != nil {
				return err
			}
			return add(cmd, qdef.Attributes{Class: qdef.ClassIdentity, Value: cert, KeyValue: key, KeyEncoding: enc})
		},
	}
	cmd.AddCommand(certCmd, keyCmd, identityCmd)
	return cmd
}

// readPayload reads a PEM or DER file. The key encoding is taken from the
// PEM block type when it names one.
func readPayload(path string) ([]byte, qdef.KeyEncoding, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, qdef.KeyEncodingAuto, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return data, qdef.KeyEncodingAuto, nil
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		return block.Bytes, qdef.KeyEncodingPKCS1, nil
	case "EC PRIVATE KEY":
		return block.Bytes, qdef.KeyEncodingSEC1, nil
	case "PRIVATE KEY":
		return block.Bytes, qdef.KeyEncodingPKCS8, nil
	}
	return block.Bytes, qdef.KeyEncodingAuto, nil
}

// predicateFlags builds a qdef.Query from flags and an optional YAML file.
// Flags override file entries.
type predicateFlags struct {
	class     string
	label     string
	appLabel  string
	issuer    string
	subject   string
	pkh       string
	serial    string
	token     string
	queryFile string
	all       bool
}

func (p *predicateFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&p.class, "class", "", "certificate, key or identity")
	f.StringVar(&p.label, "label", "", "exact label")
	f.StringVar(&p.appLabel, "app-label", "", "hex application label")
	f.StringVar(&p.issuer, "issuer", "", "hex normalized issuer")
	f.StringVar(&p.subject, "subject", "", "hex normalized subject")
	f.StringVar(&p.pkh, "public-key-hash", "", "hex public key hash")
	f.StringVar(&p.serial, "serial", "", "hex serial number (DER integer content)")
	f.StringVar(&p.token, "ref", "", "persistent reference")
	f.StringVarP(&p.queryFile, "query", "q", "", "YAML file of query options")
}

func (p *predicateFlags) query() (qdef.Query, error) {
	opts := map[string]any{}
	if p.queryFile != "" {
		data, err := os.ReadFile(p.queryFile)
		if err != nil {
			return qdef.Query{}, err
		}
		if err := yaml.Unmarshal(data, &opts); err != nil {
			return qdef.Query{}, usageError{fmt.Errorf("parse query file: %w", err)}
		}
	}
	for name, v := range map[string]string{
		qdef.OptClass:            p.class,
		qdef.OptLabel:            p.label,
		qdef.OptApplicationLabel: p.appLabel,
		qdef.OptIssuer:           p.issuer,
		qdef.OptSubject:          p.subject,
		qdef.OptPublicKeyHash:    p.pkh,
		qdef.OptSerialNumber:     p.serial,
		qdef.OptPersistentRef:    p.token,
	} {
		if v != "" {
			opts[name] = v
		}
	}
	if p.all {
		opts[qdef.OptLimit] = "all"
	}
	return qdef.ParseQuery(opts)
}

func newFindCommand(opts *rootOptions) *cobra.Command {
	var (
		pf      predicateFlags
		pemData bool
	)
	cmd := &cobra.Command{
		Use:   "find",
		Short: "Print the items matching a query",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := pf.query()
			if err != nil {
				return err
			}
			q.ReturnPersistentRef = true
			q.ReturnAttributes = true
			q.ReturnData = pemData
			return opts.withKeychain(func(k *qkeychain.Keychain) error {
				res, err := k.CopyMatching(q)
				if err != nil {
					return err
				}
				if pemData {
					return writePEM(cmd.OutOrStdout(), res)
				}
				return writeYAML(cmd.OutOrStdout(), views(res))
			})
		},
	}
	pf.register(cmd)
	cmd.Flags().BoolVar(&pf.all, "all", false, "print every match instead of the first")
	cmd.Flags().BoolVar(&pemData, "pem", false, "print item data as PEM")
	return cmd
}

func newDeleteCommand(opts *rootOptions) *cobra.Command {
	var pf predicateFlags
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete every item matching a query",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := pf.query()
			if err != nil {
				return err
			}
			return opts.withKeychain(func(k *qkeychain.Keychain) error {
				return k.Delete(q)
			})
		},
	}
	pf.register(cmd)
	return cmd
}

func newLabelCommand(opts *rootOptions) *cobra.Command {
	var pf predicateFlags
	cmd := &cobra.Command{
		Use:   "label <new-label>",
		Short: "Change the label of the single item matching a query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := pf.query()
			if err != nil {
				return err
			}
			return opts.withKeychain(func(k *qkeychain.Keychain) error {
				return k.Update(q, qdef.Changes{Label: &args[0]})
			})
		},
	}
	pf.register(cmd)
	return cmd
}

func newResolveCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <persistent-ref>",
		Short: "Resolve a persistent reference and print its item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token := qdef.PersistentRef(args[0])
			return opts.withKeychain(func(k *qkeychain.Keychain) error {
				ref, err := k.ResolvePersistentRef(token)
				if err != nil {
					return err
				}
				defer ref.Release()
				res, err := k.CopyMatching(qdef.Query{ValueRef: ref, ReturnPersistentRef: true, ReturnAttributes: true})
				if err != nil {
					return err
				}
				return writeYAML(cmd.OutOrStdout(), views(res))
			})
		},
	}
}

func newDumpCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dump",
		Short: "Print every certificate, key and identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withKeychain(func(k *qkeychain.Keychain) error {
				out := dumpView{Store: k.Path(), StoreID: k.StoreID().String()}
				for _, c := range []struct {
					class qdef.Class
					dst   *[]itemView
				}{
					{qdef.ClassCertificate, &out.Certificates},
					{qdef.ClassKey, &out.Keys},
					{qdef.ClassIdentity, &out.Identities},
				} {
					res, err := k.CopyMatching(qdef.Query{
						Class:               c.class,
						Limit:               qdef.MatchLimitAll,
						ReturnPersistentRef: true,
						ReturnAttributes:    true,
					})
					if errors.Is(err, qdef.ErrItemNotFound) {
						continue
					}
					if err != nil {
						return err
					}
					*c.dst = views(res)
				}
				return writeYAML(cmd.OutOrStdout(), out)
			})
		},
	}
}

type dumpView struct {
	Store        string     `yaml:"store"`
	StoreID      string     `yaml:"store_id"`
	Certificates []itemView `yaml:"certificates"`
	Keys         []itemView `yaml:"keys"`
	Identities   []itemView `yaml:"identities"`
}

type itemView struct {
	Ref              string    `yaml:"ref"`
	Class            string    `yaml:"class"`
	Row              int64     `yaml:"row"`
	KeyRow           int64     `yaml:"key_row,omitempty"`
	Label            string    `yaml:"label"`
	ApplicationLabel string    `yaml:"application_label"`
	PublicKeyHash    string    `yaml:"public_key_hash"`
	Issuer           string    `yaml:"issuer,omitempty"`
	Subject          string    `yaml:"subject,omitempty"`
	SerialNumber     string    `yaml:"serial_number,omitempty"`
	KeyAlgorithm     string    `yaml:"key_algorithm,omitempty"`
	KeyEncoding      string    `yaml:"key_encoding,omitempty"`
	Created          time.Time `yaml:"created"`
	Modified         time.Time `yaml:"modified"`
}

func views(res qdef.Result) []itemView {
	out := make([]itemView, 0, res.Len())
	for _, m := range res.Matches {
		a := m.Attributes
		v := itemView{
			Ref:              string(m.PersistentRef),
			Class:            a.Class.String(),
			Row:              a.RowID,
			KeyRow:           a.KeyRowID,
			Label:            a.Label,
			ApplicationLabel: hex.EncodeToString(a.ApplicationLabel),
			PublicKeyHash:    hex.EncodeToString(a.PublicKeyHash),
			Issuer:           hex.EncodeToString(a.Issuer),
			Subject:          hex.EncodeToString(a.Subject),
			SerialNumber:     hex.EncodeToString(a.SerialNumber),
			KeyAlgorithm:     a.KeyAlgorithm,
			Created:          a.CreatedAt,
			Modified:         a.ModifiedAt,
		}
		if a.KeyAlgorithm != "" {
			v.KeyEncoding = a.KeyEncoding.String()
		}
		out = append(out, v)
	}
	return out
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func writePEM(w io.Writer, res qdef.Result) error {
	for _, m := range res.Matches {
		typ := "CERTIFICATE"
		if m.Attributes.Class == qdef.ClassKey {
			switch m.Attributes.KeyEncoding {
			case qdef.KeyEncodingPKCS1:
				typ = "RSA PRIVATE KEY"
			case qdef.KeyEncodingSEC1:
				typ = "EC PRIVATE KEY"
			default:
				typ = "PRIVATE KEY"
			}
		}
		if err := pem.Encode(w, &pem.Block{Type: typ, Bytes: m.Data}); err != nil {
			return err
		}
	}
	return nil
}

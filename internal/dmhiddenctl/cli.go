// Package dmhiddenctl is the admin CLI for the hidden-volume block
// encryption layer: construction-argument validation, runtime key control
// messages, and running the Map Recovery Scanner against a device, grounded
// on the teacher's cmd/drand-cli command wiring (one urfave/cli/v2 App,
// package-level flag variables, Action closures calling into the library
// packages).
package dmhiddenctl

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	devctx "github.com/sandeepkiranp/pd-linux/context"
	"github.com/sandeepkiranp/pd-linux/config"
	"github.com/sandeepkiranp/pd-linux/device"
	"github.com/sandeepkiranp/pd-linux/log"
)

var output io.Writer = os.Stdout

var (
	version   = "dev"
	gitCommit = "none"
	buildDate = "unknown"
)

func banner() {
	fmt.Fprintf(output, "dmhiddenctl %v (date %v, commit %v)\n", version, buildDate, gitCommit)
}

var sectorsFlag = &cli.Uint64Flag{
	Name:  "sectors",
	Usage: "Number of addressable sectors on the target device (the raw block-device submission layer is out of scope of this module, §1 — commands operate against an in-memory device sized by this flag).",
	Value: 1 << 20,
}

var cipherSpecArg = &cli.StringFlag{
	Name:     "cipher-spec",
	Usage:    "cipher_spec construction field, e.g. aes-cbc-essiv:sha256",
	Required: true,
}

var keyArg = &cli.StringFlag{
	Name:     "key",
	Usage:    "key construction field: hex-encoded bytes, \"-\" for none, or a logon:/user:/encrypted:/trusted: keyring descriptor",
	Required: true,
}

var ivOffsetFlag = &cli.Uint64Flag{
	Name:  "iv-offset",
	Usage: "iv_offset construction field",
	Value: 0,
}

var startFlag = &cli.Uint64Flag{
	Name:  "start",
	Usage: "start construction field",
	Value: 0,
}

var deviceArg = &cli.StringFlag{
	Name:     "device",
	Usage:    "backing block-device path",
	Required: true,
}

var storeHiddenFlag = &cli.IntFlag{
	Name:  "store-data-in-integrity-md",
	Usage: "tag size (must be 16) enabling the hidden-sector engine; omit to leave it disabled",
}

func buildConfig(c *cli.Context) (*config.Config, error) {
	args := []string{c.String("cipher-spec"), c.String("key"), fmt.Sprint(c.Uint64("iv-offset")), c.String("device"), fmt.Sprint(c.Uint64("start"))}
	var opts []string
	if c.IsSet("store-data-in-integrity-md") {
		opts = append(opts, fmt.Sprintf("store_data_in_integrity_md:%d", c.Int("store-data-in-integrity-md")))
	}
	if len(opts) > 0 {
		args = append(args, fmt.Sprint(len(opts)))
		args = append(args, opts...)
	}
	return config.ParseArgs(args)
}

func recoverCmd(c *cli.Context) error {
	cfg, err := buildConfig(c)
	if err != nil {
		return err
	}
	dev := device.NewFake(c.Uint64("sectors"))
	dc, err := devctx.New(c.Context, cfg, dev, log.DefaultLogger())
	if err != nil {
		return err
	}
	fmt.Fprintf(output, "recovered %d hidden-map entries, %d free carrier sectors\n", dc.Map.Len(), dc.Free.Len())
	return nil
}

func keySetCmd(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("key set requires exactly one key argument")
	}
	msg, err := config.ParseControlMessage([]string{"key", "set", c.Args().First()})
	if err != nil {
		return err
	}
	fmt.Fprintf(output, "key set: keyring=%v descriptor=%q bytes=%d\n", msg.Key.Keyring, msg.Key.Descriptor, len(msg.Key.Bytes))
	return nil
}

func keyWipeCmd(c *cli.Context) error {
	if _, err := config.ParseControlMessage([]string{"key", "wipe"}); err != nil {
		return err
	}
	fmt.Fprintln(output, "key wiped")
	return nil
}

var appCommands = []*cli.Command{
	{
		Name:  "recover",
		Usage: "Run the Map Recovery Scanner against a device and report what it found.",
		Flags: []cli.Flag{cipherSpecArg, keyArg, ivOffsetFlag, deviceArg, startFlag, storeHiddenFlag, sectorsFlag},
		Action: func(c *cli.Context) error {
			banner()
			return recoverCmd(c)
		},
	},
	{
		Name:  "key",
		Usage: "Runtime key control messages.",
		Subcommands: []*cli.Command{
			{
				Name:      "set",
				Usage:     "key set <hex-or-keyring>",
				ArgsUsage: "<hex-or-keyring>",
				Action:    keySetCmd,
			},
			{
				Name:   "wipe",
				Usage:  "key wipe",
				Action: keyWipeCmd,
			},
		},
	},
}

// CLI builds the dmhiddenctl app.
func CLI() *cli.App {
	app := cli.NewApp()
	app.Name = "dmhiddenctl"
	app.Usage = "admin CLI for the hidden-volume block encryption layer"
	app.Version = version
	app.Commands = appCommands
	cli.VersionPrinter = func(c *cli.Context) {
		fmt.Fprintf(output, "dmhiddenctl %v (date %v, commit %v)\n", version, buildDate, gitCommit)
	}
	app.ExitErrHandler = func(*cli.Context, error) {
		// Overridden to prevent the default os.Exit(1) behavior, so tests
		// can run multiple commands against the same process.
	}
	return app
}

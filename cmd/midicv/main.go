// Package main is the entry point for the midicv CLI
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gitlab.com/gomidi/midi/v2"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // autoregisters driver

	"github.com/james-see/midicv/pkg/api"
	"github.com/james-see/midicv/pkg/config"
	"github.com/james-see/midicv/pkg/converter"
	"github.com/james-see/midicv/pkg/cv"
	"github.com/james-see/midicv/pkg/dac"
	"github.com/james-see/midicv/pkg/debug"
	"github.com/james-see/midicv/pkg/midiin"
	"github.com/james-see/midicv/pkg/patch"
	"github.com/james-see/midicv/pkg/tui"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	configPath  string
	debugLog    string
	debugOnly   []string
	inPort      string
	serialPort  string
	nrpnChannel int
	patchFile   string
	dumpFrames  bool
	serverPort  int
	realtime    bool
	outputFile  string
	sendPort    string
	sendChannel int
	fromYAML    string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "midicv",
	Short: "Turn MIDI into control voltages",
	Long: `midicv drives the four CV outputs of a MIDI to CV converter.

Outputs follow note stacks, velocity, pitch bend, aftertouch, controllers or
the clock tempo, and are rebound at runtime over NRPN.

Examples:
  midicv ports
  midicv listen --in "USB MIDI" --serial /dev/ttyACM0
  midicv play song.mid --dump
  midicv nrpn 2 source 3 74 --send "USB MIDI"
  midicv patch show patch.syx
  midicv tui
  midicv serve --port 8080`,
	Version:           fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	PersistentPreRunE: setupDebug,
}

var playCmd = &cobra.Command{
	Use:   "play <file.mid>",
	Short: "Route a MIDI file through the converter",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlay,
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Drive the outputs from a live MIDI input",
	RunE:  runListen,
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List MIDI inputs and serial ports",
	RunE:  runPorts,
}

var nrpnCmd = &cobra.Command{
	Use:   "nrpn <output> <source|transpose|volts|channel> <hi> <lo>",
	Short: "Encode, and optionally send, a reconfiguration request",
	Args:  cobra.ExactArgs(4),
	RunE:  runNRPN,
}

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Launch interactive output monitor",
	RunE:  runTUI,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	RunE:  runServe,
}

var patchCmd = &cobra.Command{
	Use:   "patch",
	Short: "Inspect and create patch files",
}

var patchShowCmd = &cobra.Command{
	Use:   "show <file.syx|file.yaml>",
	Short: "Print the bindings stored in a patch",
	Args:  cobra.ExactArgs(1),
	RunE:  runPatchShow,
}

var patchInitCmd = &cobra.Command{
	Use:   "init <file.syx>",
	Short: "Write a patch with the default bindings, or from YAML",
	Args:  cobra.ExactArgs(1),
	RunE:  runPatchInit,
}

var patchExportCmd = &cobra.Command{
	Use:   "export-yaml <file.syx>",
	Short: "Convert a patch to YAML",
	Args:  cobra.ExactArgs(1),
	RunE:  runPatchExport,
}

func init() {
	// Global flags
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "Config file (default ~/.config/midicv/config.yaml)")
	pf.StringVar(&debugLog, "debug", "", "Write a debug log to this file")
	pf.StringSliceVar(&debugOnly, "debug-only", nil, "Limit the debug log to these categories (midi, nrpn, dac, patch)")
	pf.StringVarP(&inPort, "in", "i", "", "MIDI input port")
	pf.StringVarP(&serialPort, "serial", "s", "", "Serial port of the DAC bridge")
	pf.IntVar(&nrpnChannel, "nrpn-channel", -1, "NRPN channel, 0 for any")
	pf.StringVarP(&patchFile, "patch", "p", "", "Patch loaded at startup (.syx or .yaml)")
	pf.BoolVar(&dumpFrames, "dump", false, "Print DAC frames as hex when no serial port is used")

	playCmd.Flags().BoolVar(&realtime, "realtime", false, "Play at the file's tempo instead of as fast as possible")
	nrpnCmd.Flags().StringVar(&sendPort, "send", "", "MIDI output port to send the request to")
	nrpnCmd.Flags().IntVar(&sendChannel, "channel", 1, "MIDI channel to send on")
	serveCmd.Flags().IntVar(&serverPort, "port", 0, "Server port (default from config)")
	patchInitCmd.Flags().StringVar(&fromYAML, "from", "", "YAML patch to convert")
	patchExportCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output .yaml file path")

	patchCmd.AddCommand(patchShowCmd, patchInitCmd, patchExportCmd)
	rootCmd.AddCommand(playCmd, listenCmd, portsCmd, nrpnCmd, tuiCmd, serveCmd, patchCmd)
}

func setupDebug(cmd *cobra.Command, args []string) error {
	if debugLog == "" {
		return nil
	}
	only, err := debug.ParseCategories(debugOnly)
	if err != nil {
		return err
	}
	return debug.Enable(debugLog, only...)
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if inPort != "" {
		cfg.MIDI.InPort = inPort
	}
	if serialPort != "" {
		cfg.DAC.SerialPort = serialPort
	}
	if nrpnChannel >= 0 {
		cfg.MIDI.NRPNChannel = nrpnChannel
	}
	if patchFile != "" {
		cfg.Patch = patchFile
	}
	return cfg, nil
}

func newConverter() (*converter.Converter, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	var dump io.Writer
	if dumpFrames {
		dump = os.Stdout
	}
	transport, err := converter.OpenTransport(cfg, dump)
	if err != nil {
		return nil, err
	}
	c, err := converter.New(cfg, transport)
	if err != nil {
		transport.Close()
		return nil, err
	}
	return c, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printCodes(codes [cv.NumOutputs]uint16) string {
	s := ""
	for out, code := range codes {
		mv := cv.Millivolts(code)
		s += fmt.Sprintf("  %d:%4d %d.%03dV", out+1, code, mv/1000, mv%1000)
	}
	return s
}

func runPlay(cmd *cobra.Command, args []string) error {
	c, err := newConverter()
	if err != nil {
		return err
	}

	defer c.Close()

	start := time.Now()
	fmt.Printf("Playing %s\n", args[0])
	summary, err := c.Play(args[0], func(step midiin.Step, codes [cv.NumOutputs]uint16) {
		if realtime {
			time.Sleep(time.Until(start.Add(step.Time)))
		}
		fmt.Printf("%8.3fs%s\n", step.Time.Seconds(), printCodes(codes))
	})
	if err != nil {
		return err
	}
	fmt.Printf("Played %d events in %d steps, %.3fs, final tempo %d BPM\n",
		summary.Events, summary.Steps, summary.Duration.Seconds(), summary.Tempo/256)
	return nil
}

func runListen(cmd *cobra.Command, args []string) error {
	c, err := newConverter()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	c.Router.OnReconfigure = func(req midiin.Request, changed bool) {
		status := "changed"
		if !changed {
			status = "rejected"
		}
		fmt.Printf("output %d %s %d/%d %s\n", req.Output+1, req.Param, req.Hi, req.Lo, status)
	}

	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()

	fmt.Println("Listening, press Ctrl+C to stop...")
	if err := c.Listen(ctx, ""); err != nil {
		cancel()
		<-errc
		return err
	}
	fmt.Println("Shutting down...")
	return <-errc
}

func runPorts(cmd *cobra.Command, args []string) error {
	fmt.Println("MIDI inputs:")
	for i, p := range midi.GetInPorts() {
		fmt.Printf("  %d: %s\n", i, p.String())
	}
	fmt.Println("MIDI outputs:")
	for i, p := range midi.GetOutPorts() {
		fmt.Printf("  %d: %s\n", i, p.String())
	}

	ports, err := dac.SerialPorts()
	if err != nil {
		return err
	}
	fmt.Println("Serial ports:")
	for _, p := range ports {
		fmt.Printf("  %s\n", p)
	}
	return nil
}

var paramNames = map[string]cv.Param{
	"source":    cv.ParamSource,
	"transpose": cv.ParamTranspose,
	"volts":     cv.ParamVolts,
	"channel":   cv.ParamChannel,
}

func parseByte(s, what string, limit int) (uint8, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > limit {
		return 0, fmt.Errorf("%s must be 0-%d, got %q", what, limit, s)
	}
	return uint8(n), nil
}

func runNRPN(cmd *cobra.Command, args []string) error {
	out, err := parseByte(args[0], "output", cv.NumOutputs)
	if err != nil || out == 0 {
		return fmt.Errorf("output must be 1-%d", cv.NumOutputs)
	}
	param, ok := paramNames[args[1]]
	if !ok {
		n, err := parseByte(args[1], "param", 127)
		if err != nil {
			return fmt.Errorf("unknown param %q", args[1])
		}
		param = cv.Param(n)
	}
	hi, err := parseByte(args[2], "hi", 127)
	if err != nil {
		return err
	}
	lo, err := parseByte(args[3], "lo", 127)
	if err != nil {
		return err
	}
	if sendChannel < 1 || sendChannel > 16 {
		return fmt.Errorf("channel must be 1-16")
	}

	req := midiin.Request{Output: int(out) - 1, Param: param, Hi: hi, Lo: lo}
	msgs := midiin.Encode(uint8(sendChannel-1), req)
	for _, msg := range msgs {
		fmt.Printf("% X  %s\n", []byte(msg), msg.String())
	}
	if sendPort == "" {
		return nil
	}

	port, err := midi.FindOutPort(sendPort)
	if err != nil {
		return fmt.Errorf("can't find output %s: %w", sendPort, err)
	}
	send, err := midi.SendTo(port)
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		if err := send(msg); err != nil {
			return err
		}
	}
	fmt.Printf("Sent to %s\n", port.String())
	return nil
}

func runTUI(cmd *cobra.Command, args []string) error {
	c, err := newConverter()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go c.Run(ctx)
	if c.Config.MIDI.InPort != "" {
		go func() {
			if err := c.Listen(ctx, ""); err != nil {
				debug.Log(debug.MIDI, "listen: %v", err)
			}
		}()
	}

	savePath := c.Config.Patch
	if savePath == "" || converter.DetectFormat(savePath) != converter.FormatSyx {
		if dir, err := config.Dir(); err == nil {
			savePath = filepath.Join(dir, "patch.syx")
		}
	}
	return tui.Run(tui.New(c.Engine, c.Stacks, c.Router, savePath))
}

func runServe(cmd *cobra.Command, args []string) error {
	c, err := newConverter()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go c.Run(ctx)
	if c.Config.MIDI.InPort != "" {
		go func() {
			if err := c.Listen(ctx, ""); err != nil {
				fmt.Fprintf(os.Stderr, "MIDI input: %v\n", err)
			}
		}()
	}

	port := c.Config.APIPort
	if serverPort != 0 {
		port = serverPort
	}
	fmt.Printf("Starting API server on port %d...\n", port)
	return api.StartServer(port, api.NewServer(c.Engine, c.Stacks, c.Router))
}

func readSources(filename string) ([cv.NumOutputs]cv.Source, error) {
	if converter.DetectFormat(filename) == converter.FormatYAML {
		data, err := os.ReadFile(filename)
		if err != nil {
			return [cv.NumOutputs]cv.Source{}, err
		}
		return patch.UnmarshalYAML(data)
	}
	return patch.ReadFile(filename)
}

func runPatchShow(cmd *cobra.Command, args []string) error {
	sources, err := readSources(args[0])
	if err != nil {
		return err
	}
	for out, src := range sources {
		fmt.Printf("%d: %s\n", out+1, cv.Describe(src))
	}
	return nil
}

func runPatchInit(cmd *cobra.Command, args []string) error {
	e := cv.New(nil)
	if fromYAML != "" {
		sources, err := readSources(fromYAML)
		if err != nil {
			return err
		}
		if err := e.LoadSources(sources); err != nil {
			return err
		}
	}
	if err := patch.Save(e, args[0]); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", args[0])
	return nil
}

func runPatchExport(cmd *cobra.Command, args []string) error {
	sources, err := patch.ReadFile(args[0])
	if err != nil {
		return err
	}
	data, err := patch.MarshalYAML(sources)
	if err != nil {
		return err
	}
	if outputFile == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(outputFile, data, 0644); err != nil {
		return err
	}
	fmt.Printf("Converted %s -> %s\n", args[0], outputFile)
	return nil
}

package flag

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/alecthomas/kong"

	"github.com/bobuhiro11/gobgrt/boot"
	"github.com/bobuhiro11/gobgrt/bmp"
	"github.com/bobuhiro11/gobgrt/emulator"
	"github.com/bobuhiro11/gobgrt/memory"
)

const (
	programName = "gobgrt"
	programDesc = "gobgrt injects a boot graphics resource table into ACPI and chainloads the boot manager, " +
		"run here against an emulated UEFI platform"
)

var errVolume = errors.New("exactly one of --volume and --fat is required")

type Globals struct {
	LogLevel  string `enum:"debug,info,warn,error" default:"info" help:"log level (${enum})"`
	LogFormat string `enum:"text,json" default:"text" help:"log format (${enum})"`

	stdout io.Writer `kong:"-"`
	stderr io.Writer `kong:"-"`
}

type CLI struct {
	Globals

	Run     RunCMD     `cmd:"" help:"boot the emulated platform through the BGRT pipeline"`
	Inspect InspectCMD `cmd:"" help:"print the ACPI tables of a memory image"`
	Init    InitCMD    `cmd:"" help:"write a sample boot volume"`
}

type PlatformFlags struct {
	Platform    string `short:"p" type:"existingfile" help:"YAML platform description"`
	MemoryImage string `short:"m" help:"memory image file, kept across runs"`
	MemSize     string `default:"" help:"memory size: as number[gGmMkK], optional units, defaults to M"`
	JSON        bool   `help:"print the report as JSON"`
}

type RunCMD struct {
	PlatformFlags

	Volume     string `short:"v" type:"existingdir" help:"host directory served as the boot volume"`
	FAT        string `type:"existingfile" help:"FAT disk image served as the boot volume"`
	Partition  int    `default:"0" help:"partition of the FAT image, 0 for the whole image"`
	SecureBoot bool   `help:"refuse unsigned images"`
}

type InspectCMD struct {
	PlatformFlags
}

type InitCMD struct {
	Dir    string `arg:"" help:"directory to populate"`
	Width  uint32 `default:"800" help:"bitmap width"`
	Height uint32 `default:"600" help:"bitmap height"`
}

// Parse runs the command line of the process.
func Parse() error {
	return Run(os.Args[1:], os.Stdout, os.Stderr)
}

// Run parses args and runs the selected command.
func Run(args []string, stdout, stderr io.Writer) error {
	c := CLI{}

	parser, err := kong.New(&c,
		kong.Name(programName),
		kong.Description(programDesc),
		kong.UsageOnError(),
		kong.Writers(stdout, stderr),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}))
	if err != nil {
		return err
	}

	ctx, err := parser.Parse(args)
	if err != nil {
		return err
	}

	c.Globals.stdout, c.Globals.stderr = stdout, stderr

	return ctx.Run(&c.Globals)
}

func (g *Globals) logger() *slog.Logger {
	var level slog.Level

	if err := level.UnmarshalText([]byte(g.LogLevel)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	if g.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(g.stderr, opts))
	}

	return slog.New(slog.NewTextHandler(g.stderr, opts))
}

func (f *PlatformFlags) platform() (emulator.Platform, error) {
	p := emulator.DefaultPlatform()

	if f.Platform != "" {
		var err error
		if p, err = emulator.LoadPlatform(f.Platform); err != nil {
			return p, err
		}
	}

	if f.MemSize != "" {
		size, err := ParseSize(f.MemSize, "m")
		if err != nil {
			return p, err
		}

		p.MemorySize = size
	}

	return p, nil
}

func (f *PlatformFlags) memory(p emulator.Platform) (*memory.Memory, error) {
	if f.MemoryImage == "" {
		return nil, nil
	}

	size := p.MemorySize
	if size == 0 {
		size = emulator.DefaultPlatform().MemorySize
	}

	return memory.Open(f.MemoryImage, size)
}

func (f *PlatformFlags) report(g *Globals, fw *emulator.Firmware) error {
	r, err := fw.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}

	if f.JSON {
		return r.WriteJSON(g.stdout)
	}

	return writeText(g.stdout, r)
}

func (r *RunCMD) volume() (emulator.Volume, func() error, error) {
	switch {
	case r.Volume != "" && r.FAT == "":
		return emulator.NewDirVolume(r.Volume), func() error { return nil }, nil
	case r.FAT != "" && r.Volume == "":
		v, err := emulator.OpenFAT(r.FAT, r.Partition)
		if err != nil {
			return nil, nil, err
		}

		return v, v.Close, nil
	}

	return nil, nil, errVolume
}

func (r *RunCMD) Run(g *Globals) (err error) {
	log := g.logger()

	p, err := r.platform()
	if err != nil {
		return err
	}

	if r.SecureBoot {
		p.SecureBoot = true
	}

	vol, closeVolume, err := r.volume()
	if err != nil {
		return err
	}
	defer closeVolume()

	mem, err := r.memory(p)
	if err != nil {
		return err
	}

	if mem != nil {
		defer func() { err = errors.Join(err, mem.Close()) }()
	}

	fw, err := emulator.New(p, emulator.Options{Memory: mem, Volume: vol, Log: log})
	if err != nil {
		return err
	}
	defer fw.Close()

	runErr := boot.New(fw, log).Run()

	if err := r.report(g, fw); err != nil {
		return errors.Join(runErr, err)
	}

	if runErr != nil {
		return fmt.Errorf("boot failed with status %s: %w", boot.ExitStatus(runErr), runErr)
	}

	return nil
}

func (i *InspectCMD) Run(g *Globals) (err error) {
	if i.MemoryImage == "" {
		return errors.New("--memory-image is required")
	}

	p, err := i.platform()
	if err != nil {
		return err
	}

	if _, err := os.Stat(i.MemoryImage); err != nil {
		return err
	}

	mem, err := i.memory(p)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, mem.Close()) }()

	fw, err := emulator.New(p, emulator.Options{Memory: mem, Log: g.logger()})
	if err != nil {
		return err
	}

	return i.report(g, fw)
}

func (c *InitCMD) Run(g *Globals) error {
	var img bytes.Buffer
	if err := bmp.Encode(&img, c.Width, c.Height); err != nil {
		return err
	}

	for path, data := range map[string][]byte{
		boot.AssetPath:     img.Bytes(),
		boot.NextStagePath: emulator.BuildPE(emulator.StubEntry),
	} {
		dst := filepath.Join(c.Dir, filepath.FromSlash(strings.ReplaceAll(strings.TrimPrefix(path, `\`), `\`, "/")))

		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}

		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return err
		}

		fmt.Fprintln(g.stdout, dst)
	}

	return nil
}

func writeText(w io.Writer, r *emulator.Report) error {
	var b strings.Builder

	fmt.Fprintf(&b, "RSDP %#x rev=%d oem=%q xsdt=%#x checksum=%v ext_checksum=%v\n",
		r.RSDP.Addr, r.RSDP.Revision, strings.TrimRight(r.RSDP.OEMID, "\x00"), r.RSDP.XSDTAddr,
		r.RSDP.ChecksumValid, r.RSDP.ExtChecksumValid)

	if r.XSDT != nil {
		fmt.Fprintf(&b, "%s %#x len=%d checksum=%v\n", r.XSDT.Signature, r.XSDT.Addr, r.XSDT.Length, r.XSDT.ChecksumValid)
	}

	for _, t := range r.Tables {
		fmt.Fprintf(&b, "  %s %#x len=%d rev=%d checksum=%v\n", t.Signature, t.Addr, t.Length, t.Revision, t.ChecksumValid)
	}

	if r.BGRT != nil {
		fmt.Fprintf(&b, "BGRT image=%#x offset=(%d,%d) version=%d status=%d\n",
			r.BGRT.ImageAddress, r.BGRT.ImageOffsetX, r.BGRT.ImageOffsetY, r.BGRT.Version, r.BGRT.Status)
	}

	for _, s := range r.Started {
		fmt.Fprintf(&b, "started %s entry=%#x\n", s.Path, s.Entry)

		for _, in := range s.Trace {
			fmt.Fprintf(&b, "  %#x: %s\n", in.PC, in.Asm)
		}
	}

	_, err := io.WriteString(w, b.String())

	return err
}

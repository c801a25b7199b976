// Command fsckfat inspects and repairs FAT volumes, and reads or writes
// the MBR/GPT partition layout wrapping them.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"github.com/embedfat/fatguard"
	"github.com/embedfat/fatguard/blockio"
	"github.com/embedfat/fatguard/checkdisk"
	"github.com/embedfat/fatguard/fatcore"
	"github.com/embedfat/fatguard/partition"
)

func main() {
	app := &cli.App{
		Usage: "Inspect and repair FAT volumes and their partition tables",
		Commands: []*cli.Command{
			{
				Name:      "check",
				Usage:     "Run CheckDisk against a FAT volume image",
				ArgsUsage: "IMAGE_FILE",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "repair", Value: "report", Usage: "report | delete | save"},
					&cli.IntFlag{Name: "max-passes", Value: 256, Usage: "stop after this many findings"},
				},
				Action: checkCommand,
			},
			{
				Name:  "partition",
				Usage: "Read or write a disk's partition table",
				Subcommands: []*cli.Command{
					{
						Name:      "show",
						Usage:     "Print the MBR or GPT layout of an image",
						ArgsUsage: "IMAGE_FILE",
						Action:    partitionShow,
					},
					{
						Name:      "create",
						Usage:     "Write a protective MBR and a single-partition GPT",
						ArgsUsage: "IMAGE_FILE TOTAL_SECTORS",
						Action:    partitionCreate,
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("fsckfat: %s", err)
	}
}

func checkCommand(c *cli.Context) error {
	path := c.Args().Get(0)
	if path == "" {
		return fatguard.ErrInvalidArgument.WithMessage("missing IMAGE_FILE")
	}

	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer file.Close()

	header := make([]byte, 512)
	if _, err := file.ReadAt(header, 0); err != nil {
		return fatguard.ErrIOFailed.Wrap(err)
	}
	bpb, err := fatcore.ParseBPB(header)
	if err != nil {
		return err
	}

	totalSectors := uint(bpb.Raw.TotalSectors16)
	if totalSectors == 0 {
		totalSectors = uint(bpb.Raw.TotalSectors32)
	}

	volume := blockio.New(file, uint(bpb.Raw.BytesPerSector), totalSectors, 0)
	fat := fatcore.Mount(bpb, volume)

	action := repairAction(c.String("repair"))
	maxPasses := c.Int("max-passes")

	opts := checkdisk.Options{
		Callback:          loggingCallback(action),
		MaxRecursionDepth: 64,
		FirstClusterID:    fatguard.FirstDataClusterIndex,
		NumClusters:       int(bpb.TotalClusters),
	}

	for pass := 0; pass < maxPasses; pass++ {
		result, err := checkdisk.Run(fat, opts)
		if err != nil {
			return err
		}
		switch result {
		case checkdisk.ResultOK:
			fmt.Println("clean, no findings")
			return nil
		case checkdisk.ResultAbort:
			fmt.Println("aborted")
			return nil
		case checkdisk.ResultMaxRecursion:
			fmt.Println("stopped: directory tree exceeds the recursion cap")
			return nil
		}
	}

	fmt.Printf("stopped after %d passes without reaching a clean state\n", maxPasses)
	return nil
}

// repairAction maps the --repair flag onto the action CheckDisk should take
// whenever a finding's natural fix is to salvage or delete clusters; "save"
// only changes behavior for lost chains (spec §4.5.4), since every other
// finding has exactly one meaningful repair besides leaving it alone.
func repairAction(mode string) checkdisk.Action {
	switch mode {
	case "delete":
		return checkdisk.DeleteClusters
	case "save":
		return checkdisk.SaveClusters
	default:
		return checkdisk.DoNotRepair
	}
}

func loggingCallback(action checkdisk.Action) checkdisk.Callback {
	return func(f checkdisk.Finding) checkdisk.Action {
		if f.Kind == checkdisk.KindLostChain {
			fmt.Printf("%s: cluster %d\n", f.Kind, f.Cluster)
		} else {
			fmt.Printf("%s: slot %d (%s)\n", f.Kind, f.Pos.Slot, f.Message)
		}
		if action == checkdisk.SaveClusters && f.Kind != checkdisk.KindLostChain {
			// Only a lost chain can be salvaged; every other finding that
			// isn't left alone is simply repaired in place.
			return checkdisk.DeleteClusters
		}
		return action
	}
}

func partitionShow(c *cli.Context) error {
	path := c.Args().Get(0)
	if path == "" {
		return fatguard.ErrInvalidArgument.WithMessage("missing IMAGE_FILE")
	}

	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	sector0 := make([]byte, 512)
	if _, err := file.ReadAt(sector0, 0); err != nil {
		return fatguard.ErrIOFailed.Wrap(err)
	}

	switch partition.DetectScheme(sector0) {
	case fatguard.SchemeGPT:
		return showGPT(file)
	case fatguard.SchemeMBR:
		mbr, err := partition.ReadMBR(sector0)
		if err != nil {
			return err
		}
		fmt.Println(mbr.String())
		return nil
	default:
		fmt.Println("no recognized partition table")
		return nil
	}
}

const gptSectorSize = 512

func readGPTTable(file *os.File, currentLBA, backupLBA uint64, isBackup bool) (*partition.Table, error) {
	headerSector := make([]byte, gptSectorSize)
	if _, err := file.ReadAt(headerSector, int64(currentLBA)*gptSectorSize); err != nil {
		return nil, fatguard.ErrIOFailed.Wrap(err)
	}
	header, err := partition.ReadGPTHeader(headerSector, currentLBA, backupLBA, isBackup, gptSectorSize)
	if err != nil {
		return nil, err
	}

	entryBytes := make([]byte, uint64(header.NumPartitionEntries)*uint64(header.PartitionEntrySize))
	if _, err := file.ReadAt(entryBytes, int64(header.PartitionEntryLBA)*gptSectorSize); err != nil {
		return nil, fatguard.ErrIOFailed.Wrap(err)
	}
	entries, err := partition.ReadGPTEntries(header, entryBytes)
	if err != nil {
		return nil, err
	}
	return &partition.Table{Header: header, Entries: entries}, nil
}

func showGPT(file *os.File) error {
	info, err := file.Stat()
	if err != nil {
		return err
	}
	backupLBA := uint64(info.Size())/gptSectorSize - 1

	table, primaryErr := readGPTTable(file, 1, backupLBA, false)
	if primaryErr != nil {
		var backupErr error
		table, backupErr = readGPTTable(file, backupLBA, 1, true)
		if backupErr != nil {
			return fatguard.ErrInvalidGPT.WithMessage(fmt.Sprintf("primary: %s; backup: %s", primaryErr, backupErr))
		}
		fmt.Println("primary GPT invalid, showing backup copy")
	}

	if err := table.ValidateLayout(); err != nil {
		fmt.Printf("layout warning: %s\n", err)
	}

	fmt.Printf("disk GUID: %s\n", table.Header.DiskGUID)
	for i, e := range table.Entries {
		sizeBytes := (e.LastLBA - e.FirstLBA + 1) * gptSectorSize
		typeName, ok := partition.LookupPartitionTypeName(e.TypeGUID)
		if !ok {
			typeName = e.TypeGUID.String()
		}
		fmt.Printf("%2d  %-20s  %12s  LBA %d-%d  %q\n", i, typeName, humanize.Bytes(sizeBytes), e.FirstLBA, e.LastLBA, e.Name)
	}
	return nil
}

func partitionCreate(c *cli.Context) error {
	path := c.Args().Get(0)
	sectorsArg := c.Args().Get(1)
	if path == "" || sectorsArg == "" {
		return fatguard.ErrInvalidArgument.WithMessage("usage: partition create IMAGE_FILE TOTAL_SECTORS")
	}

	var totalSectors uint64
	if _, err := fmt.Sscanf(sectorsArg, "%d", &totalSectors); err != nil {
		return fatguard.ErrInvalidArgument.WithMessage("TOTAL_SECTORS must be an integer")
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := file.Truncate(int64(totalSectors) * gptSectorSize); err != nil {
		return err
	}

	mbr := partition.NewProtectiveMBR(totalSectors)
	mbrSector, err := partition.WriteMBR(mbr, nil)
	if err != nil {
		return err
	}
	if _, err := file.WriteAt(mbrSector, 0); err != nil {
		return err
	}

	diskGUID, err := partition.NewRandomGUID()
	if err != nil {
		return err
	}
	partGUID, err := partition.NewRandomGUID()
	if err != nil {
		return err
	}

	const entryArrayLBA = 2
	entrySectors := partition.EntryArraySectorCount(gptSectorSize)
	firstUsableLBA := entryArrayLBA + entrySectors
	backupLBA := totalSectors - 1
	lastUsableLBA := backupLBA - entrySectors - 1

	// A single auto-sized request exercises spec §4.2.4's creation policy:
	// StartSector/NumSectors of 0 mean "use first-usable" and "claim all
	// remaining space" respectively.
	entries, err := partition.ResolveLayout([]partition.PartitionRequest{
		{TypeGUID: mustWellKnownType("Microsoft Basic Data"), UniqueGUID: partGUID, Name: "fsckfat"},
	}, firstUsableLBA, lastUsableLBA)
	if err != nil {
		return err
	}

	primaryHeader, backupHeader, entryArray, backupEntryArrayLBA, err := partition.WriteGPT(
		diskGUID, entries, 1, backupLBA, firstUsableLBA, lastUsableLBA, entryArrayLBA, gptSectorSize)
	if err != nil {
		return err
	}

	if _, err := file.WriteAt(primaryHeader, 1*gptSectorSize); err != nil {
		return err
	}
	if _, err := file.WriteAt(entryArray, entryArrayLBA*gptSectorSize); err != nil {
		return err
	}
	if _, err := file.WriteAt(entryArray, int64(backupEntryArrayLBA)*gptSectorSize); err != nil {
		return err
	}
	if _, err := file.WriteAt(backupHeader, int64(backupLBA)*gptSectorSize); err != nil {
		return err
	}

	fmt.Printf("created %s image, %s, partition LBA %d-%d\n",
		humanize.Bytes(totalSectors*gptSectorSize), path, firstUsableLBA, lastUsableLBA)
	return nil
}

func mustWellKnownType(name string) partition.GUID {
	g, ok := partition.WellKnownPartitionType(name)
	if !ok {
		panic("unknown partition type name: " + name)
	}
	return g
}

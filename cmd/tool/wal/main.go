package wal

import (
	"errors"
	"os"
	"path/filepath"

	"code.cloudfoundry.org/bytefmt"
	"github.com/spf13/cobra"

	"github.com/terndb/tern/utils/log"
	"github.com/terndb/tern/wal"
)

const (
	walUsage        = "wal"
	walShortDesc    = "Inspects a write-ahead log file"
	walLongDesc     = "This command walks the records of a write-ahead log file, validates their checksums and prints a summary"
	walFilePathDesc = "Path to the log file"
)

var (
	// Cmd is the wal command.
	Cmd = &cobra.Command{
		Use:     walUsage,
		Short:   walShortDesc,
		Long:    walLongDesc,
		Example: "tern tool wal --walFile /data/tern.wal",
		RunE:    executeWAL,
	}
	// walfilePath is the path to the log file.
	walfilePath string
)

// nolint:gochecknoinits // cobra's standard way to initialize flags
func init() {
	Cmd.Flags().StringVarP(&walfilePath, "walFile", "w", "", walFilePathDesc)
	if err := Cmd.MarkFlagRequired("walFile"); err != nil {
		log.Error("mark walFile flag as required: %v", err)
	}
}

func executeWAL(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true

	fp, err := os.Open(filepath.Clean(walfilePath))
	if err != nil {
		return err
	}
	defer func() {
		if err2 := fp.Close(); err2 != nil {
			log.Error("failed to close log file: %v", err2)
		}
	}()

	var (
		records    int
		totalBytes uint64
	)
	scanner := wal.NewRecordScanner(fp)
	for scanner.Next() {
		records++
		totalBytes += uint64(len(scanner.Record()))
	}

	log.Info("records: %d", records)
	log.Info("payload bytes: %s", bytefmt.ByteSize(totalBytes))

	if err := scanner.Err(); err != nil {
		var cksum wal.ChecksumError
		if errors.As(err, &cksum) {
			log.Error("log file is corrupt after %d records: %v", records, err)
			return err
		}
		log.Error("log file truncated or unreadable after %d records: %v", records, err)
		return err
	}
	log.Info("log file is clean")
	return nil
}

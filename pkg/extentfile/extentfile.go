// Package extentfile persists extent lists in the fixed, banner-prefixed
// tab-separated text format understood by the relocation engine's
// external tooling.
package extentfile

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/relocatefs/fstransform/pkg/block"
	"github.com/relocatefs/fstransform/pkg/ftstatus"
)

const banner = `################################################################################
######################  DO NOT EDIT THIS FILE ! ################################
################################################################################
## This file was generated automatically.
## Editing it by hand will corrupt the relocation plan.
## Field order: physical, logical, length, user_data.
`

// Record is one row of an extent file: a raw (physical, logical,
// length, user_data) quadruple in whatever units the caller chose when
// it wrote the file.
type Record struct {
	Physical block.Index
	Logical  block.Index
	Length   block.Index
	UserData block.Index
}

// Load reads an extent file, returning its records and the bitwise OR
// of the physical, logical, and length fields read — from which the
// caller can deduce the largest power of two dividing all of them,
// i.e. the block size. user_data is excluded: it is a tag, not a
// block-aligned quantity, and OR-ing it in would corrupt the
// deduction. Malformed input returns a ftstatus.Proto error.
func Load(r io.Reader) (records []Record, blockSizeBitmask block.Index, err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	for i := 0; i < 6; i++ {
		if !scanner.Scan() {
			return nil, 0, ftstatus.Errorf(ftstatus.Proto, "extent file truncated in banner (line %d)", i+1)
		}
	}

	if !scanner.Scan() {
		return nil, 0, ftstatus.Errorf(ftstatus.Proto, "extent file missing count line")
	}
	countLine := strings.TrimSpace(scanner.Text())
	var n uint64
	if _, err := fmt.Sscanf(countLine, "count %d", &n); err != nil {
		return nil, 0, ftstatus.Errorf(ftstatus.Proto, "malformed count line %q: %v", countLine, err)
	}

	if !scanner.Scan() {
		return nil, 0, ftstatus.Errorf(ftstatus.Proto, "extent file missing header line")
	}

	records = make([]Record, 0, n)
	for i := uint64(0); i < n; i++ {
		if !scanner.Scan() {
			return nil, 0, ftstatus.Errorf(ftstatus.Proto, "extent file truncated: expected %d records, got %d", n, i)
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) != 4 {
			return nil, 0, ftstatus.Errorf(ftstatus.Proto, "malformed record %q: expected 4 fields, got %d", scanner.Text(), len(fields))
		}
		var rec [4]block.Index
		for j, f := range fields {
			v, err := strconv.ParseUint(f, 10, 64)
			if err != nil {
				return nil, 0, ftstatus.Errorf(ftstatus.Proto, "malformed field %q: %v", f, err)
			}
			rec[j] = v
			if j < 3 {
				blockSizeBitmask |= v
			}
		}
		records = append(records, Record{Physical: rec[0], Logical: rec[1], Length: rec[2], UserData: rec[3]})
	}

	if err := scanner.Err(); err != nil {
		return nil, 0, ftstatus.Errorf(ftstatus.Proto, "reading extent file: %v", err)
	}
	return records, blockSizeBitmask, nil
}

// Save writes records in the banner-prefixed tab-separated format.
func Save(w io.Writer, records []Record) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(banner); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(bw, "count %d\n", len(records)); err != nil {
		return err
	}
	if _, err := bw.WriteString("physical\tlogical\tlength\tuser_data\n"); err != nil {
		return err
	}
	for _, r := range records {
		if _, err := fmt.Fprintf(bw, "%d\t%d\t%d\t%d\n", r.Physical, r.Logical, r.Length, r.UserData); err != nil {
			return err
		}
	}
	return bw.Flush()
}

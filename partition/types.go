package partition

import (
	_ "embed"
	"fmt"

	"github.com/gocarina/gocsv"
)

//go:embed gpt_types.csv
var gptTypesCSV string

type gptTypeRow struct {
	GUID string `csv:"guid"`
	Name string `csv:"name"`
}

var gptTypeNames map[GUID]string

func init() {
	rows := []gptTypeRow{}
	if err := gocsv.UnmarshalString(gptTypesCSV, &rows); err != nil {
		panic(fmt.Sprintf("partition: malformed embedded GPT type table: %s", err))
	}
	gptTypeNames = make(map[GUID]string, len(rows))
	for _, row := range rows {
		g, err := ParseGUID(row.GUID)
		if err != nil {
			panic(fmt.Sprintf("partition: bad GUID %q in embedded GPT type table: %s", row.GUID, err))
		}
		gptTypeNames[g] = row.Name
	}
}

// LookupPartitionTypeName returns the human-readable name for a well-known
// GPT partition type GUID, or ok=false if the GUID isn't in the registry.
func LookupPartitionTypeName(g GUID) (name string, ok bool) {
	name, ok = gptTypeNames[g]
	return
}

// WellKnownPartitionType looks up a registry entry by its friendly name
// (e.g. "Linux Filesystem Data") for use by CLI partition-create flows.
func WellKnownPartitionType(name string) (GUID, bool) {
	for g, n := range gptTypeNames {
		if n == name {
			return g, true
		}
	}
	return ZeroGUID, false
}

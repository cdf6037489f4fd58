// liginspect lists parameter snapshots in a ligature snapshot store and
// dumps the tie groups of a chosen snapshot.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/sbl8/ligature/store"
)

func main() {
	var (
		dbPath   = flag.String("db", "", "Path to the snapshot store (required)")
		snapshot = flag.String("snapshot", "", "Snapshot id to inspect; omit to list snapshots")
	)
	flag.Parse()

	if *dbPath == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s -db <snapshots.sqlite3> [-snapshot <id>]\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}

	st, err := store.Open(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	if *snapshot == "" {
		listSnapshots(st)
		return
	}
	dumpGroups(st, *snapshot)
}

func listSnapshots(st *store.Store) {
	snaps, err := st.Snapshots()
	if err != nil {
		log.Fatalf("Failed to list snapshots: %v", err)
	}
	if len(snaps) == 0 {
		fmt.Println("no snapshots")
		return
	}
	for _, sn := range snaps {
		fmt.Printf("%s  %s  tree=%s  %s\n",
			sn.ID, sn.CreatedAt.Format("2006-01-02 15:04:05"), sn.Tree, sn.Note)
	}
}

func dumpGroups(st *store.Store, id string) {
	groups, err := st.Groups(id)
	if err != nil {
		log.Fatalf("Failed to read snapshot groups: %v", err)
	}
	if len(groups) == 0 {
		fmt.Println("no tie groups")
		return
	}
	labels := make([]uint32, 0, len(groups))
	for l := range groups {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })

	for _, l := range labels {
		members := groups[l]
		fmt.Printf("group %d (%d members, value %g):\n", l, len(members), members[0].Value)
		for _, m := range members {
			fmt.Printf("  %s[%d] = %g\n", m.Param, m.Index, m.Value)
		}
	}
}

package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"

	"github.com/rayforge/rayforge/bvh"
	"github.com/rayforge/rayforge/scene"
)

// SceneStats builds a scene for both box fan-outs and compares the
// encoded structures side by side.
func SceneStats(ctx *cli.Context) error {
	setupLogging(ctx)

	if ctx.NArg() != 1 {
		return cli.NewExitError("stats: expected a single scene file", 1)
	}

	tris, err := scene.ReadWavefrontFile(ctx.Args().First())
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Fan-out", "Nodes", "Leaves", "Max depth", "Bytes", "Descriptor"})

	for _, gen := range []bvh.Generation{bvh.Gen4, bvh.Gen8} {
		mem := bvh.NewMemory()
		accel, err := bvh.NewBuilder(mem, gen).BuildTriangles(tris)
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}

		desc := bvh.MakeDescriptor(gen, bvh.BoxSortClosest)
		stats := accel.Stats
		table.Append([]string{
			strconv.Itoa(gen.FanOut),
			strconv.Itoa(stats.Nodes),
			strconv.Itoa(stats.Leaves),
			strconv.Itoa(stats.MaxDepth),
			strconv.Itoa(stats.Bytes),
			fmt.Sprintf("%08x %08x %08x %08x", desc[0], desc[1], desc[2], desc[3]),
		})
	}

	table.Render()
	return nil
}

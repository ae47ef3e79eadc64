package cmd

import (
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"

	"github.com/rayforge/rayforge/bvh"
	"github.com/rayforge/rayforge/scene"
)

func generationFromCtx(ctx *cli.Context) bvh.Generation {
	if ctx.Int("gen") == 8 {
		return bvh.Gen8
	}
	return bvh.Gen4
}

// CompileScene builds acceleration structures for the scene files
// passed as arguments and prints their build statistics.
func CompileScene(ctx *cli.Context) error {
	setupLogging(ctx)

	if ctx.NArg() == 0 {
		return cli.NewExitError("compile: no scene files specified", 1)
	}

	gen := generationFromCtx(ctx)
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Scene", "Primitives", "Nodes", "Leaves", "Max depth", "Bytes"})

	for idx := 0; idx < ctx.NArg(); idx++ {
		sceneFile := ctx.Args().Get(idx)

		tris, err := scene.ReadWavefrontFile(sceneFile)
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}

		mem := bvh.NewMemory()
		blas, err := bvh.NewBuilder(mem, gen).BuildTriangles(tris)
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}

		stats := blas.Stats
		table.Append([]string{
			sceneFile,
			strconv.Itoa(stats.Primitives),
			strconv.Itoa(stats.Nodes),
			strconv.Itoa(stats.Leaves),
			strconv.Itoa(stats.MaxDepth),
			strconv.Itoa(stats.Bytes),
		})
	}

	table.Render()
	return nil
}

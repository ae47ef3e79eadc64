package cmd

import (
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"

	"github.com/rayforge/rayforge/bvh"
	"github.com/rayforge/rayforge/pipeline"
	"github.com/rayforge/rayforge/scene"
	"github.com/rayforge/rayforge/types"
)

const (
	rayGenHandle     pipeline.ShaderHandle = 1
	closestHitHandle pipeline.ShaderHandle = 2
	missHandle       pipeline.ShaderHandle = 3
)

// TraceScene renders a depth/barycentric visualization of a scene
// into a PGM image and prints the traversal statistics captured in
// the ray history buffer.
func TraceScene(ctx *cli.Context) error {
	setupLogging(ctx)

	if ctx.NArg() != 1 {
		return cli.NewExitError("trace: expected a single scene file", 1)
	}
	width := uint32(ctx.Int("width"))
	height := uint32(ctx.Int("height"))

	tris, err := scene.ReadWavefrontFile(ctx.Args().First())
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	gen := generationFromCtx(ctx)
	mem := bvh.NewMemory()
	builder := bvh.NewBuilder(mem, gen)

	blas, err := builder.BuildTriangles(tris)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	tlas, err := builder.BuildInstances([]bvh.Instance{{
		Accel:     blas,
		Transform: types.IdentMat3x4(),
		Mask:      0xff,
	}})
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	eye, forward, right, up := frameCamera(tlas.RootBounds, float32(width)/float32(height))

	var rayFlags uint32
	if ctx.Bool("first-hit") {
		rayFlags |= bvh.RayFlagTerminateOnFirstHit
	}

	image := make([]float32, width*height)
	history := pipeline.NewHistory(int(width*height)*80+64, 1)

	p, err := pipeline.New(pipeline.Config{
		Memory:     mem,
		Generation: gen,
		History:    history,
		RayGen: []pipeline.Case[pipeline.RayGenFn]{{
			Handle: rayGenHandle,
			Fn: func(inv *pipeline.Invocation) {
				u := (float32(inv.LaunchID[0])+0.5)/float32(width)*2 - 1
				v := 1 - (float32(inv.LaunchID[1])+0.5)/float32(height)*2
				dir := forward.Add(right.Mul(u)).Add(up.Mul(v)).Normalize()
				inv.TraceRay(tlas, rayFlags, 0xff, 0, 0, 0, eye, 1e-3, dir, math.MaxFloat32)
			},
		}},
		ClosestHit: []pipeline.Case[pipeline.ClosestHitFn]{{
			Handle: closestHitHandle,
			Fn: func(inv *pipeline.Invocation) {
				w0 := 1 - inv.Attributes[0] - inv.Attributes[1]
				image[inv.LaunchID[1]*width+inv.LaunchID[0]] = 0.25 + 0.75*w0
			},
		}},
		Miss: []pipeline.Case[pipeline.MissFn]{{
			Handle: missHandle,
			Fn: func(inv *pipeline.Invocation) {
				image[inv.LaunchID[1]*width+inv.LaunchID[0]] = 0
			},
		}},
		SBT: pipeline.ShaderBindingTable{
			RayGen:    rayGenHandle,
			Miss:      []pipeline.MissRecord{{Shader: missHandle}},
			HitGroups: []pipeline.HitGroupRecord{{ClosestHit: closestHitHandle}},
		},
	})
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	p.Dispatch([3]uint32{width, height, 1})

	out := ctx.String("out")
	if err := writePGM(out, image, width, height); err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	logger.Noticef("wrote %s", out)

	printHistorySummary(history)
	return nil
}

// frameCamera places a pinhole camera looking down -z at the scene
// bounds, pulled back far enough to frame them with a 60 degree
// vertical field of view.
func frameCamera(bounds [2]types.Vec3, aspect float32) (eye, forward, right, up types.Vec3) {
	center := bounds[0].Add(bounds[1]).Mul(0.5)
	extent := bounds[1].Sub(bounds[0]).Len() * 0.5

	tanHalfFov := float32(math.Tan(math.Pi / 6))
	eye = center.Add(types.Vec3{0, 0, extent/tanHalfFov + extent})
	forward = types.Vec3{0, 0, -1}
	right = types.Vec3{tanHalfFov * aspect, 0, 0}
	up = types.Vec3{0, tanHalfFov, 0}
	return eye, forward, right, up
}

func writePGM(path string, image []float32, width, height uint32) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "P5\n%d %d\n255\n", width, height); err != nil {
		return err
	}
	pixels := make([]byte, len(image))
	for i, v := range image {
		if v < 0 {
			v = 0
		} else if v > 1 {
			v = 1
		}
		pixels[i] = byte(v * 255)
	}
	_, err = f.Write(pixels)
	return err
}

func printHistorySummary(history *pipeline.History) {
	tokens := history.Tokens()

	var rays, hits int
	var iterations, maxIterations, instances uint32
	for _, tok := range tokens {
		rays++
		if tok.Hit {
			hits++
		}
		iter := tok.IterationInstanceCount & 0xffff
		iterations += iter
		if iter > maxIterations {
			maxIterations = iter
		}
		instances += tok.IterationInstanceCount >> 16
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Rays", "Hits", "Avg iterations", "Max iterations", "Instance visits"})
	avg := 0
	if rays > 0 {
		avg = int(iterations) / rays
	}
	table.Append([]string{
		strconv.Itoa(rays),
		strconv.Itoa(hits),
		strconv.Itoa(avg),
		strconv.Itoa(int(maxIterations)),
		strconv.Itoa(int(instances)),
	})
	table.Render()
}

package main

import (
	"os"

	"github.com/rayforge/rayforge/cmd"
	"github.com/urfave/cli"
)

func main() {
	cli.VersionFlag = cli.BoolFlag{
		Name:  "version",
		Usage: "print only the version",
	}

	app := cli.NewApp()
	app.Name = "rayforge"
	app.Usage = "build and trace encoded ray-tracing acceleration structures"
	app.Version = "0.0.1"
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "v",
			Usage: "enable verbose logging",
		},
		cli.BoolFlag{
			Name:  "vv",
			Usage: "enable even more verbose logging",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:  "compile",
			Usage: "build acceleration structures for wavefront obj scenes",
			Description: `
Parse scene geometry from wavefront obj files, build an encoded BVH
for each and print the build statistics.`,
			ArgsUsage: "scene_file1.obj scene_file2.obj ...",
			Flags: []cli.Flag{
				cli.IntFlag{
					Name:  "gen",
					Value: 4,
					Usage: "box node fan-out (4 or 8)",
				},
			},
			Action: cmd.CompileScene,
		},
		{
			Name:      "trace",
			Usage:     "trace a scene and write a grayscale visualization",
			ArgsUsage: "scene_file.obj",
			Flags: []cli.Flag{
				cli.IntFlag{
					Name:  "width",
					Value: 512,
					Usage: "frame width",
				},
				cli.IntFlag{
					Name:  "height",
					Value: 512,
					Usage: "frame height",
				},
				cli.IntFlag{
					Name:  "gen",
					Value: 4,
					Usage: "box node fan-out (4 or 8)",
				},
				cli.BoolFlag{
					Name:  "first-hit",
					Usage: "terminate rays on the first accepted hit",
				},
				cli.StringFlag{
					Name:  "out, o",
					Value: "frame.pgm",
					Usage: "image filename for the traced frame",
				},
			},
			Action: cmd.TraceScene,
		},
		{
			Name:      "stats",
			Usage:     "compare encoded structure layouts across box fan-outs",
			ArgsUsage: "scene_file.obj",
			Action:    cmd.SceneStats,
		},
	}

	app.Run(os.Args)
}

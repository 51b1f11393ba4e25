// concatenate-tractograms 将多个 tractogram 按给定顺序拼接为一个文件，
// 并在输出旁写出记录各来源流线数的 bundle 索引（<out_stem>.json）。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"tractkit/internal/cli"
	cfgpkg "tractkit/internal/config"
	"tractkit/internal/pipeline"
	"tractkit/pkg/registry"
)

const name = "concatenate-tractograms"

var concatenate = pipeline.Concatenate

func main() {
	os.Exit(run(os.Args[1:], cli.IO{Stdout: os.Stdout, Stderr: os.Stderr, Environ: os.Environ()}))
}

func run(args []string, sys cli.IO) int {
	fl := cli.NewFlags(name, "<in_tractogram>... <out_tractogram>", sys.Stderr)
	if code, err := fl.Parse(args); err != nil {
		return code
	}
	if dir := fl.InitConfig(); dir != "" {
		return cli.WriteTemplate(dir, sys)
	}
	pos := fl.Args()
	if len(pos) < 2 {
		fmt.Fprintf(sys.Stderr, "%s: 需要至少一个输入与一个输出\n", name)
		fl.Usage()
		return cli.ExitUsage
	}
	inputs, output := pos[:len(pos)-1], pos[len(pos)-1]
	format, err := registry.FormatForPath(output)
	if err != nil {
		fmt.Fprintf(sys.Stderr, "%s: 输出格式: %v\n", name, err)
		return cli.ExitUsage
	}

	s, code := cli.Start(name, fl, sys)
	if s == nil {
		return code
	}
	defer s.Close()

	comp, err := s.Components(filepath.Dir(output), format)
	if err != nil {
		fmt.Fprintf(sys.Stderr, "装配失败: %v\n", err)
		return cli.ExitConfig
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	t := s.Logger.Start("concatenate", "run")
	res, err := concatenate(ctx, comp, pipeline.ConcatSettings{
		Inputs:    inputs,
		Output:    output,
		Overwrite: cfgpkg.Bool(s.Config.Overwrite),
		Counted: func(n int) {
			fmt.Fprintf(sys.Stdout, "Number of streamlines: %d\n", n)
		},
	}, s.Logger)
	if err != nil {
		return s.Fail("concatenate", err)
	}
	t.Finish("run", int64(res.Streamlines))
	return s.Finish("concatenate")
}

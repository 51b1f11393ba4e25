// divide-tractograms 依据 bundle 索引把合并后的 tractogram 拆回各来源 bundle，
// 每个非空来源写为 <out_folder>/<stem>.<format>。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"tractkit/internal/cli"
	cfgpkg "tractkit/internal/config"
	"tractkit/internal/pipeline"
)

const name = "divide-tractograms"

var divide = pipeline.Divide

func main() {
	os.Exit(run(os.Args[1:], cli.IO{Stdout: os.Stdout, Stderr: os.Stderr, Environ: os.Environ()}))
}

func run(args []string, sys cli.IO) int {
	fl := cli.NewFlags(name, "<in_tractogram> <in_json> <out_folder>", sys.Stderr).Divider()
	if code, err := fl.Parse(args); err != nil {
		return code
	}
	if dir := fl.InitConfig(); dir != "" {
		return cli.WriteTemplate(dir, sys)
	}
	pos := fl.Args()
	if len(pos) != 3 {
		fmt.Fprintf(sys.Stderr, "%s: 需要 3 个位置参数，实得 %d\n", name, len(pos))
		fl.Usage()
		return cli.ExitUsage
	}

	s, code := cli.Start(name, fl, sys)
	if s == nil {
		return code
	}
	defer s.Close()

	set := pipeline.DivideSettings{
		Tractogram:   pos[0],
		Index:        pos[1],
		OutDir:       pos[2],
		Overwrite:    cfgpkg.Bool(s.Config.Overwrite),
		Verify:       cfgpkg.Bool(s.Config.Verify),
		OutputFormat: s.Config.OutputFormat,
	}
	comp, err := s.Components(set.OutDir, set.OutputFormat)
	if err != nil {
		fmt.Fprintf(sys.Stderr, "装配失败: %v\n", err)
		return cli.ExitConfig
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	t := s.Logger.Start("divide", "run")
	res, err := divide(ctx, comp, set, s.Logger)
	if err != nil {
		return s.Fail("divide", err)
	}
	t.Finish("run", int64(res.Streamlines))
	if cfgpkg.Bool(s.Config.Verbose) {
		fmt.Fprintf(sys.Stdout, "Number of streamlines: %d\n", res.Streamlines)
		fmt.Fprintf(sys.Stdout, "Bundles written: %d (empty: %d)\n", len(res.Written), len(res.Skipped))
	}
	return s.Finish("divide")
}

// colexec 编译并执行 JSON 逻辑计划
//
//	colexec run --plan plan.json [--config cfg.json] [--streaming] [--source name=uri]... [--output name=path]...
//	colexec explain --plan plan.json [--config cfg.json] [--source name=uri]...
//
// 源按 URI 选择实现：s3:// 与 file:// 走远程读取（可选本地缓存），
// .arrow/.arrows 为 Arrow IPC 流，其余按 parquet glob 读取；多个 URI 用逗号分隔。
// 输出按扩展名选择 csv、parquet 或 arrow，路径为 "-" 时以 csv 写标准输出。
// 计划根节点不是 Sink 时，结果以表格形式打印到标准输出。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

const usage = `usage:
  colexec run --plan plan.json [--config cfg.json] [--streaming] [--source name=uri]... [--output name=path]...
  colexec explain --plan plan.json [--config cfg.json] [--source name=uri]...
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run 执行子命令并返回退出码
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	var err error
	switch args[0] {
	case "run":
		err = runCommand(ctx, args[1:], stdout, stderr)
	case "explain":
		err = explainCommand(ctx, args[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n%s", args[0], usage)
		return 2
	}

	switch {
	case err == nil:
		return 0
	case errors.Is(err, flag.ErrHelp):
		return 0
	case errors.Is(err, errUsage):
		fmt.Fprintf(stderr, "%v\n%s", err, usage)
		return 2
	default:
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
}

var errUsage = errors.New("invalid arguments")

func runCommand(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts, err := parseFlags("run", args, stderr, true)
	if err != nil {
		return err
	}
	app, err := newApp(ctx, opts, stdout, stderr)
	if err != nil {
		return err
	}
	defer app.Close()
	return app.Run(ctx)
}

func explainCommand(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts, err := parseFlags("explain", args, stderr, false)
	if err != nil {
		return err
	}
	app, err := newApp(ctx, opts, stdout, stderr)
	if err != nil {
		return err
	}
	defer app.Close()
	_, err = fmt.Fprint(stdout, app.plan.Tree())
	return err
}

// options 命令行参数
type options struct {
	plan      string
	config    string
	streaming bool
	sources   namedValues
	outputs   namedValues
}

func parseFlags(name string, args []string, stderr io.Writer, execute bool) (options, error) {
	var o options
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.plan, "plan", "", "JSON logical plan file")
	fs.StringVar(&o.config, "config", "", "JSON config file")
	fs.Var(&o.sources, "source", "register a scan source as name=uri[,uri...] (repeatable)")
	if execute {
		fs.BoolVar(&o.streaming, "streaming", false, "execute chunk by chunk when the plan allows it")
		fs.Var(&o.outputs, "output", "register a sink as name=path, format chosen by extension (repeatable)")
	}
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.plan == "" {
		return o, fmt.Errorf("%w: --plan is required", errUsage)
	}
	if fs.NArg() > 0 {
		return o, fmt.Errorf("%w: unexpected argument %q", errUsage, fs.Arg(0))
	}
	return o, nil
}

// namedValue name=value 形式的参数
type namedValue struct {
	name  string
	value string
}

// namedValues 可重复的 name=value 参数
type namedValues []namedValue

func (v *namedValues) String() string {
	if v == nil {
		return ""
	}
	parts := make([]string, len(*v))
	for i, nv := range *v {
		parts[i] = nv.name + "=" + nv.value
	}
	return strings.Join(parts, " ")
}

func (v *namedValues) Set(s string) error {
	name, value, ok := strings.Cut(s, "=")
	if !ok || name == "" || value == "" {
		return fmt.Errorf("expected name=value, got %q", s)
	}
	*v = append(*v, namedValue{name: name, value: value})
	return nil
}

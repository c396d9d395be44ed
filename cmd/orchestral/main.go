// =============================================================================
// Orchestral 命令行入口
// =============================================================================
// 离线检查与查看工作流配置
//
// 使用方法:
//
//	orchestral check --config orchestral.yaml     # 校验配置
//	orchestral describe --config orchestral.yaml  # 打印执行计划
//	orchestral version                            # 显示版本信息
// =============================================================================
package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/orchestral-ai/orchestral/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "check":
		runCheck(os.Args[2:])
	case "describe":
		runDescribe(os.Args[2:])
	case "version":
		fmt.Printf("orchestral %s (%s)\n", version, commit)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: orchestral <check|describe|version> [--config path]")
}

func loadConfig(args []string) *config.Config {
	fs := flag.NewFlagSet("orchestral", flag.ExitOnError)
	path := fs.String("config", "orchestral.yaml", "配置文件路径")
	_ = fs.Parse(args)

	cfg, err := config.NewLoader().WithConfigPath(*path).Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func runCheck(args []string) {
	cfg := loadConfig(args)

	logger, err := cfg.Log.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "log config: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Error("config invalid", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("config ok",
		zap.String("workflow", cfg.Workflow.Name),
		zap.String("topology", cfg.Workflow.Topology),
		zap.Int("agents", len(cfg.Workflow.Agents)),
	)
}

func runDescribe(args []string) {
	cfg := loadConfig(args)

	wf, err := cfg.Workflow.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "workflow config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("workflow: %s\n", wf.Name)
	fmt.Printf("topology: %s\n", wf.Topology)
	if wf.Timeout > 0 {
		fmt.Printf("timeout:  %s\n", wf.Timeout)
	}
	if wf.StepTimeout > 0 {
		fmt.Printf("step timeout: %s\n", wf.StepTimeout)
	}
	if wf.Retry != nil {
		fmt.Printf("retries:  %d (delay %s, backoff %v)\n",
			wf.Retry.MaxRetries, wf.Retry.RetryDelay, wf.Retry.Backoff)
	}
	fmt.Println("agents:")
	for _, a := range wf.Agents {
		role := string(a.Role)
		if role == "" {
			role = "worker"
		}
		fmt.Printf("  - %s (%s)\n", a.ID, role)
	}
	if wf.Routing != nil {
		fmt.Println("routes:")
		for _, r := range wf.Routing.Routes {
			fmt.Printf("  - %s -> %s (priority %d, triggers %v)\n",
				r.ID, r.AgentID, r.Priority, r.Triggers)
		}
		if wf.Routing.FallbackID != "" {
			fmt.Printf("  fallback -> %s\n", wf.Routing.FallbackID)
		}
	}
	if wf.Evaluator != nil {
		fmt.Printf("loop: %s -> %s -> %s, threshold %.0f, max %d iterations\n",
			wf.Evaluator.GeneratorID, wf.Evaluator.EvaluatorID, wf.Evaluator.OptimizerID,
			wf.Evaluator.Threshold, wf.Evaluator.MaxIterations)
	}
}

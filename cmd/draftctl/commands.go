package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"draftfiles/backend/internal/bootstrap"
	"draftfiles/backend/internal/config"
	"draftfiles/backend/internal/domain"
	"draftfiles/backend/internal/logger"
	"draftfiles/backend/internal/sweeper"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// cli 命令行共享状态
type cli struct {
	logLevel string
	cfg      *config.Config
	log      *zap.Logger
}

func newRootCommand() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "draftfiles-ctl",
		Short: "富文本附件运维工具",
		Long: `draftfiles-ctl 使用与服务端相同的 DRAFTFILES_ 环境变量连接存储，
用于迁移表结构、手动执行清理任务与查看附件。`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.initialize()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.log != nil {
				_ = c.log.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "warn", "日志级别: debug, info, warn, error")

	root.AddCommand(newMigrateCommand(c))
	root.AddCommand(newSweepCommand(c))
	root.AddCommand(newListCommand(c))
	root.AddCommand(newBeginCommand(c))
	root.AddCommand(newDiscardCommand(c))
	return root
}

func (c *cli) initialize() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log, err := logger.NewLogger(logger.Config{Level: c.logLevel})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	c.cfg, c.log = cfg, log
	return nil
}

// withApp 组装组件并在命令结束后释放
func (c *cli) withApp(fn func(ctx context.Context, app *bootstrap.App) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(c.cfg, nil, c.log)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(ctx, app)
}

// newMigrateCommand 创建或升级附件表结构
func newMigrateCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "迁移附件表结构",
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.cfg.Database.Type == "" || c.cfg.Database.Type == "memory" {
				fmt.Fprintln(cmd.OutOrStdout(), yellow("未配置数据库，内存存储无需迁移"))
				return nil
			}
			repo, err := bootstrap.OpenRepository(c.cfg, c.log)
			if err != nil {
				return err
			}
			defer repo.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", green("✓ 迁移完成:"), c.cfg.Database.Type, c.cfg.Attachments.Driver)
			return nil
		},
	}
}

func newSweepCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "手动执行清理任务",
	}

	var olderThan time.Duration
	drafts := &cobra.Command{
		Use:   "drafts",
		Short: "丢弃长时间未保存的草稿附件",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(func(ctx context.Context, app *bootstrap.App) error {
				sw := sweeper.New(app.Repo, app.Manager, c.cfg.Sweep.Workers, app.Metrics, c.log)
				report, err := sw.SweepDrafts(ctx, olderThan)
				printReport(cmd.OutOrStdout(), report)
				return err
			})
		},
	}
	drafts.Flags().DurationVar(&olderThan, "older-than", 24*time.Hour, "草稿最后一次上传距今的时长")

	var grace time.Duration
	orphans := &cobra.Command{
		Use:   "orphans",
		Short: "删除超过保留时间的孤儿附件",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(func(ctx context.Context, app *bootstrap.App) error {
				sw := sweeper.New(app.Repo, app.Manager, c.cfg.Sweep.Workers, app.Metrics, c.log)
				report, err := sw.PruneOrphans(ctx, grace)
				printReport(cmd.OutOrStdout(), report)
				return err
			})
		},
	}
	orphans.Flags().DurationVar(&grace, "grace", time.Hour, "孤儿附件的保留时长")

	cmd.AddCommand(drafts, orphans)
	return cmd
}

func newListCommand(c *cli) *cobra.Command {
	var (
		field     string
		ownerType string
		ownerID   string
		draftID   string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "列出记录或草稿的附件",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(func(ctx context.Context, app *bootstrap.App) error {
				if draftID != "" {
					views, err := app.Manager.ListDraft(ctx, draftID)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), views)
				}
				owner := domain.OwnerRef{Type: ownerType, ID: ownerID}
				views, err := app.Manager.ListAttachments(ctx, field, owner)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), views)
			})
		},
	}
	cmd.Flags().StringVar(&field, "field", "", "字段键，留空表示全部字段")
	cmd.Flags().StringVar(&ownerType, "owner-type", "", "记录类型")
	cmd.Flags().StringVar(&ownerID, "owner-id", "", "记录标识")
	cmd.Flags().StringVar(&draftID, "draft", "", "草稿标识，指定时忽略记录参数")
	cmd.MarkFlagsRequiredTogether("owner-type", "owner-id")
	cmd.MarkFlagsOneRequired("owner-type", "draft")
	return cmd
}

func newBeginCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "begin",
		Short: "生成新的草稿标识",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(func(ctx context.Context, app *bootstrap.App) error {
				fmt.Fprintln(cmd.OutOrStdout(), app.Manager.BeginDraft())
				return nil
			})
		},
	}
}

func newDiscardCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "discard <draft-id>",
		Short: "丢弃草稿中的全部附件",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(func(ctx context.Context, app *bootstrap.App) error {
				removed, err := app.Manager.DiscardDraft(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %d\n", green("✓ 已删除附件:"), len(removed))
				return nil
			})
		},
	}
}

func printReport(w io.Writer, r sweeper.Report) {
	status := green("✓")
	if r.Failed > 0 {
		status = yellow("!")
	}
	fmt.Fprintf(w, "%s %s  scanned=%d removed=%d failed=%d\n", status, bold(r.Job), r.Scanned, r.Removed, r.Failed)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

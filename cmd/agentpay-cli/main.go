package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"AgentPay-Guard/sdk/go/agentpay"
)

// main 是交互式命令行入口，通过 REST API 驱动支付流程。
func main() {
	baseURL := os.Getenv("AGENTPAY_URL")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}

	client := agentpay.NewClient(baseURL, nil)
	ctx := context.Background()

	if token := os.Getenv("AGENTPAY_TOKEN"); token != "" {
		client.SetAccessToken(token)
	} else if username := os.Getenv("AGENTPAY_USERNAME"); username != "" {
		authCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_, err := client.Authenticate(authCtx, agentpay.Credentials{
			Username: username,
			Password: os.Getenv("AGENTPAY_PASSWORD"),
		})
		cancel()
		if err != nil {
			fmt.Fprintf(os.Stderr, "登录失败: %v\n", err)
			os.Exit(1)
		}
	}

	fmt.Println("AgentPay 交互终端，输入 help 查看命令。")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		command, rest, _ := strings.Cut(line, " ")
		switch command {
		case "quit", "exit":
			return
		case "help":
			printHelp()
		case "chat":
			runChat(ctx, client, rest)
		case "propose":
			runPropose(ctx, client, rest)
		case "approve":
			runApprove(ctx, client, strings.TrimSpace(rest))
		case "pending":
			runPending(ctx, client)
		case "intents":
			runIntents(ctx, client)
		case "policy":
			runPolicy(ctx, client)
		case "spend":
			runSpend(ctx, client)
		default:
			fmt.Printf("未知命令: %s\n", command)
		}
	}
}

func printHelp() {
	fmt.Println(`命令:
  chat <消息>                   与支付助手对话，可能生成待批准的支付意图
  propose <收款人> <金额> [备注]  直接提交支付意图
  approve <意图ID>              批准并执行一笔待定支付
  pending                       列出待批准的支付意图
  intents                       列出最近的支付意图
  policy                        查看当前支付策略
  spend                         查看今日支出与剩余额度
  quit                          退出`)
}

func runChat(ctx context.Context, client *agentpay.Client, message string) {
	message = strings.TrimSpace(message)
	if message == "" {
		fmt.Println("用法: chat <消息>")
		return
	}
	result, err := client.Chat(ctx, message)
	if err != nil {
		printError(err)
		return
	}
	fmt.Println(result.Reply)
	if result.Intent != nil {
		fmt.Printf("已创建支付意图 %s：向 %s 支付 %d 聪，等待批准（approve %s）。\n",
			result.Intent.ID, result.Intent.RecipientID, result.Intent.AmountSats, result.Intent.ID)
	}
	if result.Denial != "" {
		fmt.Printf("策略拒绝: %s\n", result.Denial)
	}
}

func runPropose(ctx context.Context, client *agentpay.Client, rest string) {
	fields := strings.Fields(rest)
	if len(fields) < 2 {
		fmt.Println("用法: propose <收款人> <金额> [备注]")
		return
	}
	amount, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		fmt.Printf("金额解析失败: %v\n", err)
		return
	}
	created, err := client.ProposeIntent(ctx, agentpay.IntentSubmission{
		RecipientID: fields[0],
		AmountSats:  amount,
		Note:        strings.Join(fields[2:], " "),
	})
	if err != nil {
		printError(err)
		return
	}
	fmt.Printf("已创建支付意图 %s（状态 %s）。\n", created.ID, created.Status)
}

func runApprove(ctx context.Context, client *agentpay.Client, id string) {
	if id == "" {
		fmt.Println("用法: approve <意图ID>")
		return
	}
	approved, err := client.ApproveIntent(ctx, id)
	if err != nil {
		printError(err)
		return
	}
	fmt.Printf("支付已执行，交易哈希 %s。\n", approved.TxID)
}

func runPending(ctx context.Context, client *agentpay.Client) {
	results, err := client.ListPendingIntents(ctx)
	if err != nil {
		printError(err)
		return
	}
	if len(results) == 0 {
		fmt.Println("没有待批准的支付意图。")
		return
	}
	for _, in := range results {
		fmt.Printf("%s  ->%-12s %8d 聪  %s\n", in.ID, in.RecipientID, in.AmountSats, in.Note)
	}
}

func runIntents(ctx context.Context, client *agentpay.Client) {
	results, err := client.ListIntents(ctx, 20)
	if err != nil {
		printError(err)
		return
	}
	if len(results) == 0 {
		fmt.Println("没有支付意图记录。")
		return
	}
	for _, in := range results {
		line := fmt.Sprintf("%s  [%s]  ->%-12s %8d 聪", in.ID, in.Status, in.RecipientID, in.AmountSats)
		if in.TxID != "" {
			line += "  txid=" + in.TxID
		}
		if in.FailureReason != "" {
			line += "  原因=" + in.FailureReason
		}
		fmt.Println(line)
	}
}

func runPolicy(ctx context.Context, client *agentpay.Client) {
	policy, err := client.GetPolicy(ctx)
	if err != nil {
		printError(err)
		return
	}
	fmt.Printf("单笔下限 %d 聪，单笔上限 %d 聪，每日限额 %d 聪。\n",
		policy.MinSingleTxSats, policy.MaxSingleTxSats, policy.DailySpendLimitSats)
	fmt.Println("允许的收款人:")
	for _, recipient := range policy.AllowedRecipients {
		fmt.Printf("  %-12s %s\n", recipient.ID, recipient.Address)
	}
}

func runSpend(ctx context.Context, client *agentpay.Client) {
	spend, err := client.GetSpend(ctx)
	if err != nil {
		printError(err)
		return
	}
	fmt.Printf("今日已支出 %d 聪，剩余额度 %d 聪（每日限额 %d 聪）。\n",
		spend.SpentTodaySats, spend.RemainingSats, spend.DailyLimitSats)
}

func printError(err error) {
	var apiErr *agentpay.APIError
	if errors.As(err, &apiErr) {
		fmt.Printf("请求失败 [%s]: %s\n", apiErr.Code, apiErr.Message)
		return
	}
	fmt.Printf("请求失败: %v\n", err)
}

// exctl is a small command-line client for the toy exchange API.
//
// Usage:
//
//	exctl [-base URL] [-key API_KEY] <command> [args]
//
// Commands:
//
//	register <name>                      create a user, print its api key
//	instruments                          list the catalogue
//	book <ticker> [limit]                L2 depth
//	trades <ticker> [limit]              recent trades
//	balance                              own balances
//	buy|sell <ticker> <qty> [price]      place an order (no price = market)
//	orders                               list own orders
//	order <id>                           show one order
//	cancel <id>                          cancel a resting limit order
//	add-instrument <ticker> <name>       admin: list an asset
//	rm-instrument <ticker>               admin: delist an asset
//	rm-user <id>                         admin: delete a user
//	deposit <user_id> <ticker> <amount>  admin: credit a balance
//	withdraw <user_id> <ticker> <amount> admin: debit a balance
//
// The api key comes from -key or the EXCHANGE_API_KEY environment
// variable.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"toy-exchange/pkg/types"
)

func main() {
	base := flag.String("base", "http://localhost:8080", "exchange base URL")
	key := flag.String("key", os.Getenv("EXCHANGE_API_KEY"), "api key (or EXCHANGE_API_KEY)")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: exctl [-base URL] [-key KEY] <command> [args]")
		os.Exit(2)
	}

	client := resty.New().
		SetBaseURL(*base + "/api/v1").
		SetTimeout(10 * time.Second).
		SetHeader("Content-Type", "application/json")
	if *key != "" {
		client.SetHeader("Authorization", "TOKEN "+*key)
	}

	if err := run(client, args[0], args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "exctl:", err)
		os.Exit(1)
	}
}

func run(client *resty.Client, cmd string, args []string) error {
	switch cmd {
	case "register":
		if len(args) != 1 {
			return fmt.Errorf("usage: register <name>")
		}
		var user types.User
		return call(client.R().SetBody(types.NewUser{Name: args[0]}).SetResult(&user), "POST", "/public/register", &user)

	case "instruments":
		var out []types.Instrument
		return call(client.R().SetResult(&out), "GET", "/public/instrument", &out)

	case "book":
		if len(args) < 1 {
			return fmt.Errorf("usage: book <ticker> [limit]")
		}
		var out types.L2OrderBook
		req := client.R().SetResult(&out)
		if len(args) > 1 {
			req.SetQueryParam("limit", args[1])
		}
		return call(req, "GET", "/public/orderbook/"+args[0], &out)

	case "trades":
		if len(args) < 1 {
			return fmt.Errorf("usage: trades <ticker> [limit]")
		}
		var out []types.Transaction
		req := client.R().SetResult(&out)
		if len(args) > 1 {
			req.SetQueryParam("limit", args[1])
		}
		return call(req, "GET", "/public/transactions/"+args[0], &out)

	case "balance":
		var out map[string]int64
		return call(client.R().SetResult(&out), "GET", "/balance", &out)

	case "buy", "sell":
		if len(args) < 2 {
			return fmt.Errorf("usage: %s <ticker> <qty> [price]", cmd)
		}
		qty, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("bad qty %q: %w", args[1], err)
		}
		body := types.OrderBody{Direction: types.Buy, Ticker: args[0], Qty: qty}
		if cmd == "sell" {
			body.Direction = types.Sell
		}
		if len(args) > 2 {
			price, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil {
				return fmt.Errorf("bad price %q: %w", args[2], err)
			}
			body.Price = &price
		}
		var out types.CreateOrderResponse
		return call(client.R().SetBody(body).SetResult(&out), "POST", "/order", &out)

	case "orders":
		var out []types.Order
		return call(client.R().SetResult(&out), "GET", "/order", &out)

	case "order":
		if len(args) != 1 {
			return fmt.Errorf("usage: order <id>")
		}
		var out types.Order
		return call(client.R().SetResult(&out), "GET", "/order/"+args[0], &out)

	case "cancel":
		if len(args) != 1 {
			return fmt.Errorf("usage: cancel <id>")
		}
		var out types.Ok
		return call(client.R().SetResult(&out), "DELETE", "/order/"+args[0], &out)

	case "add-instrument":
		if len(args) != 2 {
			return fmt.Errorf("usage: add-instrument <ticker> <name>")
		}
		var out types.Ok
		body := types.Instrument{Ticker: args[0], Name: args[1]}
		return call(client.R().SetBody(body).SetResult(&out), "POST", "/admin/instrument", &out)

	case "rm-instrument":
		if len(args) != 1 {
			return fmt.Errorf("usage: rm-instrument <ticker>")
		}
		var out types.Ok
		return call(client.R().SetResult(&out), "DELETE", "/admin/instrument/"+args[0], &out)

	case "rm-user":
		if len(args) != 1 {
			return fmt.Errorf("usage: rm-user <id>")
		}
		var out types.User
		return call(client.R().SetResult(&out), "DELETE", "/admin/user/"+args[0], &out)

	case "deposit", "withdraw":
		if len(args) != 3 {
			return fmt.Errorf("usage: %s <user_id> <ticker> <amount>", cmd)
		}
		body, err := balanceChange(args)
		if err != nil {
			return err
		}
		var out types.Ok
		return call(client.R().SetBody(body).SetResult(&out), "POST", "/admin/balance/"+cmd, &out)

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func balanceChange(args []string) (types.BalanceChange, error) {
	var body types.BalanceChange
	if err := body.UserID.UnmarshalText([]byte(args[0])); err != nil {
		return body, fmt.Errorf("bad user id %q: %w", args[0], err)
	}
	amount, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		return body, fmt.Errorf("bad amount %q: %w", args[2], err)
	}
	body.Ticker = args[1]
	body.Amount = amount
	return body, nil
}

// call executes the request and pretty-prints the decoded result, or the
// server's error envelope on a non-200 status.
func call(req *resty.Request, method, path string, result any) error {
	resp, err := req.Execute(method, path)
	if err != nil {
		return err
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String())
	}
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

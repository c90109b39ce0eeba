package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"

	"github.com/urfave/cli/v2"
)

const (
	defaultServerURL = "http://127.0.0.1:8081"
	serverFlag       = "server"
)

func main() {
	app := &cli.App{
		Name:  "mintctl",
		Usage: "operator cli for a running monexo-ecash mint",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  serverFlag,
				Usage: "admin server url",
				Value: defaultServerURL,
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "keysets",
				Usage:  "list all known keysets",
				Action: getKeysets,
			},
			{
				Name:  "rotate",
				Usage: "rotate the active keyset for a unit",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "unit", Required: true},
				},
				Action: rotateKeyset,
			},
			{
				Name:   "issued",
				Usage:  "get issued ecash totals",
				Action: getIssued,
			},
			{
				Name:   "redeemed",
				Usage:  "get redeemed ecash totals",
				Action: getRedeemed,
			},
			{
				Name:   "balance",
				Usage:  "get issued, redeemed and in-circulation totals",
				Action: getBalance,
			},
			{
				Name:  "mint-quote",
				Usage: "look up a mint quote by id",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Required: true},
				},
				Action: getMintQuote,
			},
			{
				Name:  "melt-quote",
				Usage: "look up a melt quote by id",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Required: true},
				},
				Action: getMeltQuote,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func get(ctx *cli.Context, path string) ([]byte, int, error) {
	url := ctx.String(serverFlag) + path
	resp, err := http.Get(url)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

func post(ctx *cli.Context, path string) ([]byte, int, error) {
	url := ctx.String(serverFlag) + path
	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

func checkStatus(body []byte, status int) error {
	if status >= http.StatusBadRequest {
		return errors.New(string(body))
	}
	return nil
}

func getKeysets(ctx *cli.Context) error {
	body, status, err := get(ctx, "/keysets")
	if err != nil {
		return err
	}
	if err := checkStatus(body, status); err != nil {
		return err
	}

	var keysets []struct {
		Id       string   `json:"id"`
		Unit     string   `json:"unit"`
		Active   bool     `json:"active"`
		Amounts  []uint64 `json:"amounts"`
		InputFee uint     `json:"input_fee_ppk"`
	}
	if err := json.Unmarshal(body, &keysets); err != nil {
		return err
	}

	for _, ks := range keysets {
		fmt.Printf("%s\n\tunit: %s\n\tactive: %v\n\tfee: %d\n\n", ks.Id, ks.Unit, ks.Active, ks.InputFee)
	}
	return nil
}

func rotateKeyset(ctx *cli.Context) error {
	unit := ctx.String("unit")
	body, status, err := post(ctx, "/keysets/"+unit+"/rotate")
	if err != nil {
		return err
	}
	if err := checkStatus(body, status); err != nil {
		return err
	}
	fmt.Println(string(body))
	return nil
}

func getIssued(ctx *cli.Context) error {
	body, status, err := get(ctx, "/issued")
	if err != nil {
		return err
	}
	if err := checkStatus(body, status); err != nil {
		return err
	}
	fmt.Println(string(body))
	return nil
}

func getRedeemed(ctx *cli.Context) error {
	body, status, err := get(ctx, "/redeemed")
	if err != nil {
		return err
	}
	if err := checkStatus(body, status); err != nil {
		return err
	}
	fmt.Println(string(body))
	return nil
}

func getBalance(ctx *cli.Context) error {
	body, status, err := get(ctx, "/balance")
	if err != nil {
		return err
	}
	if err := checkStatus(body, status); err != nil {
		return err
	}
	fmt.Println(string(body))
	return nil
}

func getMintQuote(ctx *cli.Context) error {
	body, status, err := get(ctx, "/mint-quotes/"+ctx.String("id"))
	if err != nil {
		return err
	}
	if err := checkStatus(body, status); err != nil {
		return err
	}
	fmt.Println(string(body))
	return nil
}

func getMeltQuote(ctx *cli.Context) error {
	body, status, err := get(ctx, "/melt-quotes/"+ctx.String("id"))
	if err != nil {
		return err
	}
	if err := checkStatus(body, status); err != nil {
		return err
	}
	fmt.Println(string(body))
	return nil
}

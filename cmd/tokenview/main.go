// tokenview prints the on-chain metadata of a pixel or composite token.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"pixel-canvas/internal/chain"
	"pixel-canvas/internal/chain/stub"
	"pixel-canvas/internal/contract"
	"pixel-canvas/internal/grid"
	"pixel-canvas/internal/token"
)

func main() {
	// Parse flags
	gatewayEndpoint := flag.String("gateway-endpoint", os.Getenv("GATEWAY_ENDPOINT"), "Wallet gateway JSON-RPC HTTP endpoint")
	contractAddr := flag.String("contract-address", os.Getenv("CONTRACT_ADDRESS"), "Canvas contract address")
	tokenID := flag.Int64("token", -1, "Token ID to inspect")
	x := flag.Int("x", -1, "Pixel X coordinate (alternative to --token)")
	y := flag.Int("y", -1, "Pixel Y coordinate (alternative to --token)")
	width := flag.Int("width", 100, "Canvas width in pixels")
	height := flag.Int("height", 100, "Canvas height in pixels")
	useStub := flag.Bool("use-stub", false, "Run against an in-memory chain simulation")
	flag.Parse()

	codec, err := grid.NewCodec(*width, *height)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid canvas dimensions: %v\n", err)
		os.Exit(1)
	}

	var client chain.Client
	address := *contractAddr
	if *useStub {
		sim := stub.NewClient(*width, *height)
		sim.SetPixel(3, 7, "#ff0000", "0xDemo")
		client = sim
		if address == "" {
			address = "0xStubCanvas"
		}
	} else {
		if *gatewayEndpoint == "" || *contractAddr == "" {
			fmt.Fprintln(os.Stderr, "Error: --gateway-endpoint and --contract-address are required")
			fmt.Fprintln(os.Stderr, "Use --use-stub to run against demo data instead")
			os.Exit(1)
		}
		client = chain.NewHTTPClient(*gatewayEndpoint)
	}

	id := *tokenID
	if id < 0 {
		if *x < 0 || *y < 0 {
			fmt.Fprintln(os.Stderr, "Error: pass --token, or both --x and --y")
			os.Exit(1)
		}
		id, err = codec.Encode(grid.Point{X: *x, Y: *y})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	binding, err := contract.NewBinding(client, address, codec)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	uri, err := binding.TokenURI(ctx, id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading token %d: %v\n", id, err)
		os.Exit(1)
	}

	meta, err := token.DecodeMetadata(uri)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error decoding metadata for token %d: %v\n", id, err)
		os.Exit(1)
	}

	fmt.Printf("Token:       %d\n", id)
	fmt.Printf("Name:        %s\n", meta.Name)
	if meta.Description != "" {
		fmt.Printf("Description: %s\n", meta.Description)
	}
	fmt.Printf("Image:       %s\n", summarizeImage(meta.Image))
	for _, attr := range meta.Attributes {
		fmt.Printf("  %-12s %v\n", attr.TraitType+":", attr.Value)
	}

	if grid.IsComposite(id) {
		printComposition(ctx, binding, id)
	}
}

func printComposition(ctx context.Context, binding *contract.Binding, id int64) {
	info, err := binding.GetCompositionInfo(ctx, id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading composition info: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Composite:   (%d,%d)-(%d,%d), %d pixels\n",
		info.StartX, info.StartY, info.EndX, info.EndY, len(info.MemberIDs))
}

func summarizeImage(image string) string {
	if len(image) > 64 {
		return image[:64] + "..."
	}
	return image
}

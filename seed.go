package main

import (
	"context"
	"fmt"
	"time"

	bidding "auction-engine/internal/biddingService"
	model "auction-engine/internal/models"
	"auction-engine/utils"
)

type seedBid struct {
	bidder string
	amount int64
}

type seedAuction struct {
	lot   model.NewAuction
	bids  []seedBid
	close bool
}

// demoAuctions returns the catalog a fresh server starts with
func demoAuctions(now time.Time) []seedAuction {
	return []seedAuction{
		{
			lot: model.NewAuction{
				Title:        "Pintura al óleo del siglo XIX",
				Description:  "Obra original de paisaje europeo con marco dorado de época.",
				Category:     "arte",
				AuctioneerID: "casa-subastas-1",
				Featured:     true,
				StartingBid:  model.FromMajor(5000),
				Increment:    model.FromMajor(500),
				StartTime:    now.Add(-time.Hour),
				EndTime:      now.Add(2 * time.Hour),
				AutoExtend:   true,
			},
			bids: []seedBid{
				{"coleccionista-ana", 5500},
				{"galeria-norte", 7000},
				{"coleccionista-ana", 9000},
				{"marco-ruiz", 12000},
				{"galeria-norte", 15000},
			},
		},
		{
			lot: model.NewAuction{
				Title:        "Ferrari 250 GT Classic",
				Description:  "Automóvil clásico restaurado, documentación completa.",
				Category:     "vehiculos",
				AuctioneerID: "casa-subastas-2",
				StartingBid:  model.FromMajor(25000),
				Increment:    model.FromMajor(1000),
				StartTime:    now.Add(time.Hour),
				EndTime:      now.Add(25 * time.Hour),
				AutoExtend:   true,
			},
		},
		{
			lot: model.NewAuction{
				Title:        "Anillo de diamante",
				Description:  "Diamante de 2 quilates montado en platino.",
				Category:     "joyeria",
				AuctioneerID: "casa-subastas-1",
				StartingBid:  model.FromMajor(2000),
				Increment:    model.FromMajor(250),
				StartTime:    now.Add(-3 * time.Hour),
				EndTime:      now.Add(time.Hour),
			},
			bids: []seedBid{
				{"joyeria-sol", 2500},
				{"marco-ruiz", 4000},
				{"joyeria-sol", 6000},
				{"coleccionista-ana", 8500},
			},
			close: true,
		},
	}
}

// seedAuctions creates the demo catalog through the regular service paths so
// every seeded bid goes through acceptance and the ledger
func seedAuctions(ctx context.Context, svc *bidding.BiddingService, now time.Time) error {
	for _, demo := range demoAuctions(now) {
		created, err := svc.CreateAuction(demo.lot)
		if err != nil {
			return fmt.Errorf("seed %q: %w", demo.lot.Title, err)
		}

		for _, b := range demo.bids {
			res, err := svc.SubmitBid(ctx, model.BidRequest{
				AuctionID: created.AuctionID,
				BidderID:  b.bidder,
				Amount:    model.FromMajor(b.amount),
			})
			if err != nil {
				return fmt.Errorf("seed %q: bid by %s: %w", demo.lot.Title, b.bidder, err)
			}
			if !res.Accepted() {
				return fmt.Errorf("seed %q: bid by %s rejected: %s", demo.lot.Title, b.bidder, res.Reason)
			}
		}

		if demo.close {
			if _, err := svc.Transition(ctx, created.AuctionID, model.CommandClose); err != nil {
				return fmt.Errorf("seed %q: close: %w", demo.lot.Title, err)
			}
		}

		utils.Info("seed: auction ready", map[string]any{
			"auction_id": created.AuctionID,
			"title":      created.Title,
			"bids":       len(demo.bids),
		})
	}
	return nil
}

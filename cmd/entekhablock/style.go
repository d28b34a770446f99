package main

import (
	"log/slog"
	"strconv"

	"github.com/pterm/pterm"

	"github.com/theMahdiyarB/entekhablock/ledger"
)

// runDemo seals a few sample ballots on an in-memory chain, shows the chain
// state, then tampers with a block to demonstrate detection. Nothing touches
// disk.
func runDemo(logger *slog.Logger) error {
	spinner, _ := pterm.DefaultSpinner.Start("Sealing sample ballots...")
	chain, err := ledger.New(ledger.WithDifficulty(2), ledger.WithLogger(logger))
	if err != nil {
		spinner.Fail()
		return err
	}

	samples := []ledger.Payload{
		ledger.NewVotePayload("a3f1c9", "poll_demo01", "علی رضایی", "2025-06-15 10:00:00"),
		ledger.NewVotePayload("b7e244", "poll_demo01", "مریم احمدی", "2025-06-15 10:05:00"),
		ledger.NewVotePayload("c19d80", "poll_demo01", "علی رضایی", "2025-06-15 10:12:00"),
	}
	for _, payload := range samples {
		if _, err := chain.Append(payload); err != nil {
			spinner.Fail()
			return err
		}
	}
	spinner.Success("Sealed " + strconv.Itoa(len(samples)) + " ballots")

	summary, err := chain.Summary()
	if err != nil {
		return err
	}
	pterm.DefaultPanel.WithPanels([][]pterm.Panel{
		{summaryPanel(summary)},
		{blocksPanel(chain.All())},
	}).Render()

	pterm.Println()
	pterm.Info.Println("Tampering with block 2 without resealing it...")
	report, err := chain.Tamper(2, ledger.NewVotePayload("b7e244", "poll_demo01", "علی رضایی", "2025-06-15 10:05:00"))
	if err != nil {
		return err
	}
	pterm.DefaultPanel.WithPanels([][]pterm.Panel{
		{tamperPanel(report)},
	}).Render()

	if verr := chain.Verify(); verr != nil {
		pterm.Warning.Printfln("Validation now reports: %v", verr)
	}
	return nil
}

func summaryPanel(s ledger.Summary) pterm.Panel {
	pbox := pterm.DefaultBox.WithHorizontalPadding(4).WithTopPadding(1).WithBottomPadding(1)
	valid := pterm.LightGreen("VALID")
	if !s.IsValid {
		valid = pterm.LightRed("BROKEN")
	}
	body := pterm.Sprintfln("Blocks: %d", s.TotalBlocks) +
		pterm.Sprintfln("Votes: %d", s.TotalVotes) +
		pterm.Sprintfln("Integrity: %s", valid) +
		pterm.Sprintfln("Latest hash: %s", shortHash(s.LatestHash))
	return pterm.Panel{Data: pbox.WithTitle(pterm.LightCyan("|CHAIN|")).WithTitleTopCenter().Sprint(body)}
}

func blocksPanel(blocks []ledger.Block) pterm.Panel {
	pbox := pterm.DefaultBox.WithHorizontalPadding(4).WithTopPadding(1).WithBottomPadding(1)
	body := ""
	for _, b := range blocks {
		line := "#" + strconv.Itoa(b.Position) + "  " + shortHash(b.Hash)
		if choice, ok := b.Payload["choice"].(string); ok {
			line += "  " + choice
		} else {
			line += "  genesis"
		}
		body += pterm.Sprintln(line)
	}
	return pterm.Panel{Data: pbox.WithTitle(pterm.LightYellow("|BLOCKS|")).WithTitleTopCenter().Sprint(body)}
}

func tamperPanel(r ledger.TamperReport) pterm.Panel {
	pbox := pterm.DefaultBox.WithHorizontalPadding(4).WithTopPadding(1).WithBottomPadding(1)
	verdict := pterm.LightGreen("chain still valid")
	if r.IntegrityBroken {
		verdict = pterm.LightRed("tampering detected")
	}
	body := pterm.Sprintfln("Block: %d", r.TamperedPosition) +
		pterm.Sprintfln("Valid before: %t", r.BeforeValid) +
		pterm.Sprintfln("Valid after: %t", r.AfterValid) +
		pterm.Sprintfln("Verdict: %s", verdict)
	return pterm.Panel{Data: pbox.WithTitle(pterm.LightRed("|TAMPER DRILL|")).WithTitleTopCenter().Sprint(body)}
}

func shortHash(h string) string {
	if len(h) <= 16 {
		return h
	}
	return h[:16] + "..."
}

package ui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/CK6170/Msectrax-go/models"
	"github.com/CK6170/Msectrax-go/session"
)

// PromptOperator confirms alignment steps on a line-oriented terminal:
// y accepts, n asks for two integers, q (or end of input) quits.
type PromptOperator struct {
	in  *bufio.Scanner
	out io.Writer
}

func NewPromptOperator(in io.Reader, out io.Writer) *PromptOperator {
	return &PromptOperator{in: bufio.NewScanner(in), out: out}
}

func (p *PromptOperator) readLine(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fmt.Fprint(p.out, prompt)
	if !p.in.Scan() {
		if err := p.in.Err(); err != nil {
			return "", err
		}
		return "", session.ErrOperatorQuit
	}
	return strings.TrimSpace(p.in.Text()), nil
}

func (p *PromptOperator) Decide(ctx context.Context, prop session.Proposal) (session.Decision, error) {
	if prop.Converged {
		fmt.Fprintln(p.out, "centred; restarting from a random position")
	}
	fmt.Fprintf(p.out, "DAC1: %d DAC2: %d\n", prop.Galvos.DAC1, prop.Galvos.DAC2)
	for {
		ans, err := p.readLine(ctx, "Checking OK? [y/n/q]: ")
		if err != nil {
			return session.Decision{}, err
		}
		switch strings.ToLower(ans) {
		case "y", "":
			return session.Decision{Accept: true}, nil
		case "q":
			return session.Decision{}, session.ErrOperatorQuit
		case "n":
			g, err := p.readGalvos(ctx)
			if err != nil {
				return session.Decision{}, err
			}
			return session.Decision{Galvos: g}, nil
		}
	}
}

func (p *PromptOperator) readGalvos(ctx context.Context) (models.Galvos, error) {
	for {
		line, err := p.readLine(ctx, "Set new galvo (dac1 dac2): ")
		if err != nil {
			return models.Galvos{}, err
		}
		g, err := ParseGalvos(line)
		if err == nil {
			return g, nil
		}
		fmt.Fprintf(p.out, "%v\n", err)
	}
}

func (p *PromptOperator) Report(step session.AlignStep) {
	s := step.Sample
	fmt.Fprintf(p.out, "%d,%g,%g,%g,%g\n", s.Timestamp, s.DAC1, s.DAC2, s.ADC1, s.ADC2)
}

// ParseGalvos reads "dac1 dac2" (space or comma separated) as int16s.
func ParseGalvos(line string) (models.Galvos, error) {
	fields := strings.FieldsFunc(line, func(r rune) bool { return r == ' ' || r == ',' || r == '\t' })
	if len(fields) != 2 {
		return models.Galvos{}, fmt.Errorf("want two integers, got %q", line)
	}
	var v [2]int16
	for i, f := range fields {
		n, err := strconv.ParseInt(f, 10, 16)
		if err != nil {
			return models.Galvos{}, fmt.Errorf("galvo value %q: %w", f, err)
		}
		v[i] = int16(n)
	}
	return models.Galvos{DAC1: v[0], DAC2: v[1]}, nil
}

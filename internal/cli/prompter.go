package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/healthfolio/folio/internal/engine"
	"github.com/healthfolio/folio/internal/model"
	"github.com/healthfolio/folio/internal/review"
	"github.com/healthfolio/folio/internal/service"
)

// Prompter implements the interactive terminal workflow for entity review.
// It renders each upload's extracted entities as a checklist and collects
// the user's confirmation decision.
type Prompter struct {
	startTime   time.Time
	writer      io.Writer
	reader      *NonBlockingReader
	progressBar *progressbar.ProgressBar
	mu          sync.Mutex
}

// NewPrompter creates a prompter reading from reader and writing to writer.
// Nil arguments default to stdin and stdout.
func NewPrompter(reader io.Reader, writer io.Writer) *Prompter {
	if reader == nil {
		reader = os.Stdin
	}
	if writer == nil {
		writer = os.Stdout
	}

	return &Prompter{
		reader:    NewNonBlockingReader(reader),
		writer:    writer,
		startTime: time.Now(),
	}
}

// ChoosePatient presents the patient roster and returns the selection. There
// is no default; the user must pick explicitly.
func (p *Prompter) ChoosePatient(ctx context.Context, patients []model.Patient) (model.Patient, error) {
	fmt.Fprintln(p.writer, FormatTitle("Whose records are these?"))
	for i, patient := range patients {
		fmt.Fprintf(p.writer, "  [%d] %s\n", i+1, patient.Name)
	}
	fmt.Fprintln(p.writer)

	for {
		fmt.Fprint(p.writer, FormatPrompt(fmt.Sprintf("Patient (1-%d)", len(patients))))
		line, err := p.reader.ReadLine(ctx)
		if err != nil {
			return model.Patient{}, err
		}

		n, err := strconv.Atoi(strings.TrimSpace(line))
		if err != nil || n < 1 || n > len(patients) {
			fmt.Fprintln(p.writer, FormatWarning("Pick a number from the list."))
			continue
		}
		return patients[n-1], nil
	}
}

// ReviewEntities renders the extracted-entity checklist for one upload and
// loops on commands until the user confirms or skips. All entities start
// selected.
func (p *Prompter) ReviewEntities(ctx context.Context, job *review.JobReview) (engine.Decision, error) {
	selected := make(map[string]bool, len(job.Entities))
	for _, e := range job.Entities {
		selected[e.LocalID] = true
	}

	for {
		select {
		case <-ctx.Done():
			return engine.Decision{}, ctx.Err()
		default:
		}

		fmt.Fprintln(p.writer, RenderBox(
			fmt.Sprintf("Extracted from %s", job.Filename),
			p.formatEntities(job.Entities, selected),
		))
		if job.LastErr != nil {
			fmt.Fprintln(p.writer, FormatError(fmt.Sprintf("Previous confirmation failed: %v", job.LastErr)))
		}
		fmt.Fprintln(p.writer, SubtleStyle.Render("  number toggles an entity, [a]ll, [n]one, [c]onfirm, [s]kip"))
		fmt.Fprintln(p.writer)

		fmt.Fprint(p.writer, FormatPrompt("Review"))
		line, err := p.reader.ReadLine(ctx)
		if err != nil {
			return engine.Decision{}, err
		}

		switch cmd := strings.ToLower(strings.TrimSpace(line)); cmd {
		case "a":
			for _, e := range job.Entities {
				selected[e.LocalID] = true
			}
		case "n":
			for id := range selected {
				selected[id] = false
			}
		case "s":
			fmt.Fprintln(p.writer, FormatInfo("Left for a later session."))
			return engine.Decision{Confirm: false}, nil
		case "c":
			ids := p.selectedIDs(job.Entities, selected)
			if len(ids) == 0 {
				fmt.Fprintln(p.writer, FormatWarning("Nothing selected. Deselect-all then confirm is not a thing; use [s] to skip."))
				continue
			}
			return engine.Decision{SelectedLocalIDs: ids, Confirm: true}, nil
		default:
			n, err := strconv.Atoi(cmd)
			if err != nil || n < 1 || n > len(job.Entities) {
				fmt.Fprintln(p.writer, FormatWarning("Unknown command."))
				continue
			}
			id := job.Entities[n-1].LocalID
			selected[id] = !selected[id]
		}
	}
}

// formatEntities renders the checklist, one entity per line.
func (p *Prompter) formatEntities(entities []model.ExtractedEntity, selected map[string]bool) string {
	var b strings.Builder
	for i, e := range entities {
		marker := UncheckedIcon
		if selected[e.LocalID] {
			marker = SuccessStyle.Render(SelectedIcon)
		}

		fmt.Fprintf(&b, "%s %2d. %-12s %s", marker, i+1, e.EntityClass, BoldStyle.Render(e.Text))
		if e.Confidence > 0 {
			fmt.Fprintf(&b, " %s", SubtleStyle.Render(fmt.Sprintf("(%.0f%%)", e.Confidence*100)))
		}
		if attrs := formatAttributes(e.Attributes); attrs != "" {
			fmt.Fprintf(&b, " %s", SubtleStyle.Render(attrs))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (p *Prompter) selectedIDs(entities []model.ExtractedEntity, selected map[string]bool) []string {
	ids := make([]string, 0, len(entities))
	for _, e := range entities {
		if selected[e.LocalID] {
			ids = append(ids, e.LocalID)
		}
	}
	return ids
}

func formatAttributes(attrs map[string]string) string {
	if len(attrs) == 0 {
		return ""
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+attrs[k])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// StartUploadProgress installs a progress bar over total files.
func (p *Prompter) StartUploadProgress(total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.progressBar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(p.writer),
		progressbar.OptionSetDescription("Uploading"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}

// AdvanceUploadProgress records one finished file.
func (p *Prompter) AdvanceUploadProgress(result model.UploadResult) {
	p.mu.Lock()
	bar := p.progressBar
	p.mu.Unlock()

	if bar != nil {
		_ = bar.Add(1)
	}
	if result.Err != nil {
		fmt.Fprintln(p.writer, FormatError(fmt.Sprintf("%s: %v", result.Filename, result.Err)))
	}
}

// ShowExtractionProgress renders the aggregate snapshot on one line.
func (p *Prompter) ShowExtractionProgress(s model.ProgressSnapshot) {
	fmt.Fprintf(p.writer, "\r%s", InfoStyle.Render(fmt.Sprintf(
		"Extracting: %.0f%% (%d done, %d failed, %d processing)",
		s.Percent(), s.Completed, s.Failed, s.Processing)))
	if s.AllDone() {
		fmt.Fprintln(p.writer)
	}
}

// ShowCompletion prints the run summary.
func (p *Prompter) ShowCompletion(stats *service.CompletionStats) {
	elapsed := time.Since(p.startTime).Round(time.Second)

	var b strings.Builder
	fmt.Fprintf(&b, "Files uploaded:    %d\n", stats.FilesUploaded)
	if stats.FilesFailed > 0 {
		fmt.Fprintf(&b, "Files failed:      %d\n", stats.FilesFailed)
	}
	fmt.Fprintf(&b, "Records inserted:  %d\n", stats.RecordsInserted)
	if stats.ExtractionsRun > 0 {
		fmt.Fprintf(&b, "Extractions run:   %d\n", stats.ExtractionsRun)
		fmt.Fprintf(&b, "Records confirmed: %d\n", stats.RecordsConfirmed)
	}
	fmt.Fprintf(&b, "Elapsed:           %s", elapsed)

	fmt.Fprintln(p.writer, RenderBox("Upload complete", b.String()))
}

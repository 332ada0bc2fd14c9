package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/crofton-cloud/sitectl/pkg/deploy"
)

func TestNewStageTable(t *testing.T) {
	buf := &bytes.Buffer{}
	st := NewStageTable(buf)

	assert.NotNil(t, st)
	assert.NotNil(t, st.stages)
	assert.Equal(t, 0, len(st.order))
}

func TestStageTable_Add(t *testing.T) {
	buf := &bytes.Buffer{}
	st := NewStageTable(buf)

	st.Add(deploy.StageZone, "hosted zone for example.com")
	st.Add(deploy.StageCertificate, "example.com + www.example.com")

	assert.Equal(t, 2, len(st.stages))
	assert.Equal(t, []deploy.Stage{deploy.StageZone, deploy.StageCertificate}, st.order)
	assert.Equal(t, "dns", st.stages[deploy.StageZone].Name)
}

func TestStageTable_AddTwiceKeepsOrder(t *testing.T) {
	buf := &bytes.Buffer{}
	st := NewStageTable(buf)

	st.Add(deploy.StageZone, "first")
	st.Add(deploy.StageZone, "updated")

	assert.Equal(t, 1, len(st.order))
	assert.Equal(t, "updated", st.stages[deploy.StageZone].Title)
}

func TestStageTable_PrintPlan(t *testing.T) {
	buf := &bytes.Buffer{}
	st := NewStageTable(buf)

	st.Add(deploy.StageZone, "hosted zone for example.com")
	st.Add(deploy.StageStack, "folio-website-framework")
	st.PrintPlan()

	out := buf.String()
	assert.Contains(t, out, "Deployment Plan:")
	assert.Contains(t, out, "dns")
	assert.Contains(t, out, "hosted zone for example.com")
	assert.Contains(t, out, "folio-website-framework")
}

func TestStageTable_ObserveTransitions(t *testing.T) {
	buf := &bytes.Buffer{}
	st := NewStageTable(buf)
	st.Add(deploy.StageCertificate, "example.com")

	st.Observe(deploy.StageEvent{Stage: deploy.StageCertificate, Status: deploy.StageRunning})
	assert.Contains(t, buf.String(), "Starting certificate")

	buf.Reset()
	st.Observe(deploy.StageEvent{
		Stage:  deploy.StageCertificate,
		Status: deploy.StageComplete,
		Detail: "arn:aws:acm:us-east-1:123456789012:certificate/abc",
	})
	out := buf.String()
	assert.Contains(t, out, "certificate completed")
	assert.Contains(t, out, "arn:aws:acm:us-east-1:123456789012:certificate/abc")
}

func TestStageTable_ObserveFailure(t *testing.T) {
	buf := &bytes.Buffer{}
	st := NewStageTable(buf)
	st.Add(deploy.StageStack, "folio-website-framework")

	st.Observe(deploy.StageEvent{Stage: deploy.StageStack, Status: deploy.StageRunning})
	st.Observe(deploy.StageEvent{
		Stage:  deploy.StageStack,
		Status: deploy.StageFailed,
		Detail: "stack folio-website-framework creation failed",
	})

	assert.Contains(t, buf.String(), "stack failed")
	assert.Equal(t, 1, st.FailedCount())
}

func TestStageTable_ObserveSkipped(t *testing.T) {
	buf := &bytes.Buffer{}
	st := NewStageTable(buf)
	st.Add(deploy.StagePublish, "dist")

	st.Observe(deploy.StageEvent{
		Stage:  deploy.StagePublish,
		Status: deploy.StageSkipped,
		Detail: "no site directory",
	})

	out := buf.String()
	assert.Contains(t, out, "publish skipped")
	assert.Contains(t, out, "no site directory")
}

func TestStageTable_ObserveUnknownStageIgnored(t *testing.T) {
	buf := &bytes.Buffer{}
	st := NewStageTable(buf)

	st.Observe(deploy.StageEvent{Stage: deploy.StageZone, Status: deploy.StageRunning})

	assert.Equal(t, "", buf.String())
	assert.Equal(t, 0, st.FailedCount())
}

func TestStageTable_SummarySuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	st := NewStageTable(buf)
	st.Add(deploy.StageZone, "zone")
	st.Add(deploy.StagePublish, "dist")

	st.Observe(deploy.StageEvent{Stage: deploy.StageZone, Status: deploy.StageComplete})
	st.Observe(deploy.StageEvent{Stage: deploy.StagePublish, Status: deploy.StageComplete})

	buf.Reset()
	st.PrintSummary()

	assert.Contains(t, buf.String(), "Deployment completed successfully")
}

func TestStageTable_SummaryFailure(t *testing.T) {
	buf := &bytes.Buffer{}
	st := NewStageTable(buf)
	st.Add(deploy.StageZone, "zone")
	st.Add(deploy.StageStack, "stack")

	st.Observe(deploy.StageEvent{Stage: deploy.StageZone, Status: deploy.StageComplete})
	st.Observe(deploy.StageEvent{
		Stage:  deploy.StageStack,
		Status: deploy.StageFailed,
		Detail: "boom",
	})

	buf.Reset()
	st.PrintSummary()

	out := buf.String()
	assert.Contains(t, out, "Deployment failed")
	assert.Contains(t, out, "1 completed")
	assert.Contains(t, out, "1 failed")
	assert.Contains(t, out, "boom")
	// Failure summary repeats the failed stage detail on its own line
	assert.True(t, strings.Count(out, "boom") >= 1)
}

// Package stage holds the fixed catalog of simulated pipeline stages and
// the canned tool output each one prints.
package stage

import "time"

// Step is a batch of log lines followed by a simulated wait.
type Step struct {
	Lines []string
	Wait  time.Duration
}

// Failure describes the randomized failure branch of a stage.
type Failure struct {
	Lines   []string // appended to the run log
	Summary []string // becomes the stage's own log fragments
}

// Definition is one immutable stage of the catalog.
type Definition struct {
	ID   string // ordinal, "1".."4"
	Key  string
	Name string
	Tool string

	Steps   []Step
	Failure *Failure // nil when the stage cannot fail

	SuccessLines []string
	Summary      []string
}

// Stage keys in execution order.
const (
	SourceCheckout = "source-checkout"
	BuildAndTest   = "build-and-test"
	Containerize   = "containerize"
	Deploy         = "deploy"
)

// Catalog returns the four stages in execution order. Each call returns a
// fresh copy so callers cannot alter the shared definition.
func Catalog() []Definition {
	return []Definition{
		{
			ID: "1", Key: SourceCheckout, Name: "Source Code", Tool: "Git",
			Steps: []Step{
				{Lines: []string{"git fetch origin main"}, Wait: 1500 * time.Millisecond},
			},
			SuccessLines: []string{"git checkout -b release/v2.5.1"},
			Summary:      []string{"Fetched origin", "Checked out branch"},
		},
		{
			ID: "2", Key: BuildAndTest, Name: "Build & Test", Tool: "Maven",
			Steps: []Step{
				{Lines: []string{"mvn clean package -DskipTests=false"}, Wait: 1500 * time.Millisecond},
				{Lines: []string{
					"[INFO] Scanning for projects...",
					"[INFO] Building SimOps Core 1.0-SNAPSHOT",
					"[INFO] --- maven-compiler-plugin:3.8.1:compile ---",
				}, Wait: 1000 * time.Millisecond},
				{Lines: []string{
					"[INFO] --- maven-surefire-plugin:2.22.2:test ---",
					"[INFO] Running com.simops.AppTest",
				}},
			},
			Failure: &Failure{
				Lines: []string{
					"[ERROR] Failures: ",
					"[ERROR]   AppTest.testApp:42 expected: <true> but was: <false>",
					"[INFO] BUILD FAILURE",
				},
				Summary: []string{"[INFO] BUILD FAILURE", "[ERROR] Tests failed"},
			},
			SuccessLines: []string{
				"[INFO] Tests run: 42, Failures: 0, Errors: 0, Skipped: 0",
				"[INFO] BUILD SUCCESS",
			},
			Summary: []string{"[INFO] BUILD SUCCESS", "Tests Passed (42/42)"},
		},
		{
			ID: "3", Key: Containerize, Name: "Containerize", Tool: "Docker",
			Steps: []Step{
				{Lines: []string{"docker build -t app:latest ."}, Wait: 2000 * time.Millisecond},
			},
			SuccessLines: []string{
				"Sending build context to Docker daemon...",
				"Step 1/5 : FROM eclipse-temurin:17-jre-alpine",
				"COPY target/simops.jar app.jar",
			},
			Summary: []string{"Image built", "Pushed to registry"},
		},
		{
			ID: "4", Key: Deploy, Name: "Deploy", Tool: "Kubernetes",
			Steps: []Step{
				{Lines: []string{"kubectl apply -f deployment.yaml"}, Wait: 2000 * time.Millisecond},
			},
			SuccessLines: []string{"deployment.apps/simops-app configured"},
			Summary:      []string{"Deployment applied", "Pods scaling up"},
		},
	}
}

// Waits returns the number of simulated waits in the stage.
func (d Definition) Waits() int {
	n := 0
	for _, s := range d.Steps {
		if s.Wait > 0 {
			n++
		}
	}
	return n
}

// TotalWait is the unscaled simulated duration of the stage.
func (d Definition) TotalWait() time.Duration {
	var total time.Duration
	for _, s := range d.Steps {
		total += s.Wait
	}
	return total
}

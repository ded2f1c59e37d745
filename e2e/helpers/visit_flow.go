// Command visit_flow drives one visit against a running taskgate gateway.
//
// In complete mode it starts every task in order, waits for the gate to
// unlock and checks that reveal returns the encoded resource. In lockout
// mode it sends a context menu probe and checks that the visit locks out
// and reveal is refused.
//
// Usage: visit_flow -gateway http://127.0.0.1:18430 -resource https://example.com/file.zip
//
// Exit codes:
//
//	0 = all checks passed
//	1 = a check failed
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"time"

	wsclient "github.com/dohr-michael/taskgate/clients/ws"
	"github.com/dohr-michael/taskgate/internal/events"
	wsprotocol "github.com/dohr-michael/taskgate/internal/gateway/ws"
	"github.com/dohr-michael/taskgate/internal/unlock"
)

func main() {
	gatewayURL := flag.String("gateway", "http://127.0.0.1:18430", "Gateway base URL")
	resource := flag.String("resource", "https://example.com/e2e.zip", "Resource reference to encode")
	param := flag.String("param", "download_url", "Query parameter carrying the encoded resource")
	lockout := flag.Bool("lockout", false, "Exercise the lockout path instead of completing the tasks")
	timeout := flag.Duration("timeout", 5*time.Minute, "Overall timeout")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	query := url.Values{
		*param: {unlock.EncodeResource(*resource)},
		"w":    {"1280"},
		"h":    {"800"},
	}

	run := runComplete
	if *lockout {
		run = runLockout
	}
	if err := run(ctx, *gatewayURL, query, *resource); err != nil {
		fmt.Fprintf(os.Stderr, "FAIL: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("PASS")
}

func open(ctx context.Context, base string, query url.Values) (*wsclient.Client, events.VisitStartedPayload, error) {
	var sp events.VisitStartedPayload

	u, err := wsclient.VisitURL(base, query)
	if err != nil {
		return nil, sp, err
	}
	client, err := wsclient.Dial(ctx, u)
	if err != nil {
		return nil, sp, fmt.Errorf("dial: %w", err)
	}

	f, err := client.WaitEvent(wsclient.EventNamed(string(events.EventVisitStarted)))
	if err != nil {
		client.Close()
		return nil, sp, fmt.Errorf("wait visit.started: %w", err)
	}
	if err := json.Unmarshal(f.Payload, &sp); err != nil {
		client.Close()
		return nil, sp, fmt.Errorf("decode visit.started: %w", err)
	}
	fmt.Printf("CHECK visit opened: %s (%d tasks)\n", f.SessionID, len(sp.Tasks))
	return client, sp, nil
}

func runComplete(ctx context.Context, base string, query url.Values, want string) error {
	client, sp, err := open(ctx, base, query)
	if err != nil {
		return err
	}
	defer client.Close()

	if !sp.ResourceAvailable {
		return fmt.Errorf("resource reported unavailable")
	}
	if _, err := client.Call(wsprotocol.MethodFocus, wsprotocol.FocusParams{Focused: true}); err != nil {
		return fmt.Errorf("focus: %w", err)
	}

	for _, task := range sp.Tasks {
		res, err := client.Call(wsprotocol.MethodStartTask, wsprotocol.StartTaskParams{ID: task.ID})
		if err != nil {
			return fmt.Errorf("start %s: %w", task.ID, err)
		}
		if res.OK == nil || !*res.OK {
			return fmt.Errorf("start %s refused: %s", task.ID, res.Error)
		}
		fmt.Printf("CHECK task started: %s (%ds)\n", task.ID, task.DurationSeconds)

		id := task.ID
		if _, err := client.WaitEvent(func(f wsprotocol.Frame) bool {
			var p events.TaskStatePayload
			if f.Event != string(events.EventTaskState) || json.Unmarshal(f.Payload, &p) != nil {
				return false
			}
			return p.TaskID == id && p.State == "completed"
		}); err != nil {
			return fmt.Errorf("wait %s completed: %w", id, err)
		}
		fmt.Printf("CHECK task completed: %s\n", id)
	}

	if _, err := client.WaitEvent(wsclient.EventNamed(string(events.EventGateUnlocked))); err != nil {
		return fmt.Errorf("wait gate.unlocked: %w", err)
	}
	fmt.Println("CHECK gate unlocked")

	res, err := client.Call(wsprotocol.MethodReveal, nil)
	if err != nil {
		return fmt.Errorf("reveal: %w", err)
	}
	if res.OK == nil || !*res.OK {
		return fmt.Errorf("reveal refused: %s", res.Error)
	}
	var p struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(res.Payload, &p); err != nil {
		return fmt.Errorf("decode reveal: %w", err)
	}
	if p.URL != want {
		return fmt.Errorf("revealed %q, want %q", p.URL, want)
	}
	fmt.Printf("CHECK revealed: %s\n", p.URL)
	return nil
}

func runLockout(ctx context.Context, base string, query url.Values, _ string) error {
	client, _, err := open(ctx, base, query)
	if err != nil {
		return err
	}
	defer client.Close()

	if _, err := client.Call(wsprotocol.MethodContextMenu, nil); err != nil {
		return fmt.Errorf("contextmenu: %w", err)
	}
	f, err := client.WaitEvent(wsclient.EventNamed(string(events.EventTamperLockout)))
	if err != nil {
		return fmt.Errorf("wait tamper.lockout: %w", err)
	}
	var lp events.LockoutPayload
	json.Unmarshal(f.Payload, &lp)
	fmt.Printf("CHECK locked out: %s\n", lp.Kind)

	res, err := client.Call(wsprotocol.MethodReveal, nil)
	if err != nil {
		return fmt.Errorf("reveal: %w", err)
	}
	var p struct {
		Code string `json:"code"`
	}
	json.Unmarshal(res.Payload, &p)
	if res.OK != nil && *res.OK {
		return fmt.Errorf("reveal succeeded after lockout")
	}
	if p.Code != wsprotocol.CodeLockedOut {
		return fmt.Errorf("reveal code %q, want %q", p.Code, wsprotocol.CodeLockedOut)
	}
	fmt.Println("CHECK reveal refused after lockout")
	return nil
}

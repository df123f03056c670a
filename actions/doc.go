// Package actions provides typed builders for common manager actions.
//
// Each builder validates its required fields, assembles the wire
// parameters under their canonical key names, and delegates to the
// client's Send method. The package carries no protocol knowledge
// beyond key names: correlation, timeouts, retries, and circuit
// breaking all live in the amiclient core.
//
// # Basic Usage
//
//	api := actions.New(client)
//
//	resp, err := api.Originate(ctx, actions.OriginateRequest{
//		Channel:  "PJSIP/1001",
//		Context:  "outbound",
//		Exten:    "18005551234",
//		Priority: 1,
//		CallerID: "Support <1001>",
//	})
//	if err != nil {
//		return err
//	}
//	if !resp.Succeeded() {
//		log.Printf("originate rejected: %s", resp.Message)
//	}
//
// Builders return the raw *amiclient.Response so callers can inspect
// protocol-level failures without string matching. The few helpers
// that digest the response into a plain value (GetVar, Command)
// return errors.ErrActionFailed when the server rejected the action.
package actions

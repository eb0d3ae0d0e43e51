// Package client is the application entry point of the library.
//
// A Client holds one session with a push server. Connect opens it in the
// background; status changes, server errors and property changes are
// reported to session.Listener implementations on the dispatcher
// goroutine. Subscriptions and messages can be submitted at any time and
// are carried by the session as soon as it is available.
//
//	c, err := client.New("https://push.example.com", "DEMO")
//	if err != nil {
//		return err
//	}
//	sub, _ := subscription.New(subscription.ModeMerge, []string{"item1"}, []string{"last_price"})
//	sub.AddListener(myListener)
//	_ = c.Subscribe(sub)
//	_ = c.Connect()
//
// The cookie jar, the TLS trust configuration and the logger provider
// are shared by every client of the process.
package client

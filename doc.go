// Package dmcrypt provides end-to-end encryption for direct messages on the
// Moonpup relay.
//
// The SDK manages an X25519 keypair per user: the private key never leaves
// the device, stored wrapped under AES-256-GCM with a key derived from the
// local environment, while the public key is published to the relay's
// key directory. Messages are sealed with the crypto_box construction
// (X25519 + XSalsa20-Poly1305), so the relay only ever carries opaque
// ciphertext.
//
// Basic usage:
//
//	client, err := dmcrypt.New("user-123", sessionToken)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	if notice := client.Notice(); notice != nil {
//	    // The keypair changed this session. Show this to the user:
//	    // older messages may no longer decrypt.
//	    fmt.Println(notice)
//	}
//
//	// Send an encrypted message
//	msg, err := client.SendMessage(ctx, "conv-1", "user-456", "hello")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Read the conversation
//	messages, err := client.Messages(ctx, "conv-1")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, m := range messages {
//	    fmt.Println(m.SenderID, m.Text)
//	}
package dmcrypt

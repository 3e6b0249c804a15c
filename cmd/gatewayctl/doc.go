// Package main (cmd/gatewayctl) is a command-line client for the template gateway.
//
// Every mutating command signs its request with --privkey (or GATEWAY_PRIVKEY),
// which makes the key's address the caller of the action. Signers also use the
// sign subcommands to produce deploy and call authorizations for other callers.
//
// Example workflow:
//
//  1. Generate keys for the owner, a signer and a user:
//     gatewayctl keygen
//
//  2. Initialize the gateway and register template code:
//     gatewayctl --privkey=$OWNER initialize --owner=$OWNER_ADDR --signer=$SIGNER_ADDR
//     gatewayctl --privkey=$OWNER register --implementation=0x...
//
//  3. Deploy an instance by paying the deployment fee:
//     gatewayctl --privkey=$USER deploy --name=Widget --data=0x... --value=100
//
//  4. Or by signature, issued by the signer for the user:
//     gatewayctl --privkey=$SIGNER sign deploy --caller=$USER_ADDR --name=Widget --data=0x...
//     gatewayctl --privkey=$USER deploy --name=Widget --data=0x... --signature=0x...
//
//  5. Forward calls and inspect records:
//     gatewayctl --privkey=$USER call --instance=0x... --data=0x...
//     gatewayctl records --instance=0x...
package main

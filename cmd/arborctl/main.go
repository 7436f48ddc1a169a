// arborctl is an interactive debugging shell over the store's public
// runtime surface: declare objects, run selects, watch subscriptions, and
// publish synthetic events against a live in-process store.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"

	"github.com/arborstore/arbor/pkg/domain"
	"github.com/arborstore/arbor/pkg/metamodel"
	"github.com/arborstore/arbor/pkg/mounts"
	"github.com/arborstore/arbor/pkg/runtime"
	"github.com/arborstore/arbor/pkg/vstore"
)

func main() {
	rt := runtime.New()
	if err := rt.Start("arborctl"); err != nil {
		fmt.Fprintln(os.Stderr, "start:", err)
		os.Exit(1)
	}
	rt.Factories = mounts.DefaultFactories(rt.Store())
	if err := rt.LoadConfig(); err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
	}
	code := repl(rt)
	if err := rt.Stop(); err != nil {
		fmt.Fprintln(os.Stderr, "stop:", err)
		os.Exit(1)
	}
	os.Exit(code)
}

func repl(rt *runtime.Runtime) int {
	rl, err := readline.New("arbor> ")
	if err != nil {
		fmt.Fprintln(os.Stderr, "readline:", err)
		return 1
	}
	defer rl.Close()

	ctx := runtime.WithOwner(context.Background(), domain.EntityID("arborctl"))
	subs := make(map[string]*vstore.Subscription)

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return 0
		}
		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "quit", "exit":
			return 0
		case "build":
			fmt.Println(rt.GetBuild())
		case "mounts":
			for _, m := range rt.Store().Mounts() {
				fmt.Printf("%s\t%s\t%s\n", m.Name(), m.From(), m.Policy().Ownership)
			}
		case "declare":
			if len(fields) < 3 {
				fmt.Println("usage: declare <parent-path> <name> [type]")
				continue
			}
			typeName := "string"
			if len(fields) > 3 {
				typeName = fields[3]
			}
			obj, err := rt.Declare(ctx, fields[1], fields[2], metamodel.LookupBuiltin(typeName))
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			fmt.Printf("declared %s/%s (%s)\n", strings.TrimSuffix(fields[1], "/"), fields[2], obj.State())
			obj.Release()
		case "define":
			if len(fields) < 2 {
				fmt.Println("usage: define <path> [value]")
				continue
			}
			obj, err := rt.Namespace().Lookup(nil, fields[1])
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			if len(fields) > 2 {
				obj.Payload = strings.Join(fields[2:], " ")
			}
			if err := rt.Define(ctx, obj); err != nil {
				fmt.Println("error:", err)
			} else {
				fmt.Println("defined", fields[1])
			}
			obj.Release()
		case "select":
			if len(fields) < 2 {
				fmt.Println("usage: select <expr> [from]")
				continue
			}
			b := rt.Store().Select(fields[1])
			if len(fields) > 2 {
				b = b.From(fields[2])
			}
			it, err := b.Iter()
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			n := 0
			for it.Next() {
				r := it.Result()
				fmt.Printf("%s\t%s\t%v\n", r.ID, r.Type, r.Value)
				n++
			}
			if err := it.Err(); err != nil {
				fmt.Println("error:", err)
			}
			it.Release()
			fmt.Printf("%d result(s)\n", n)
		case "subscribe":
			if len(fields) < 2 {
				fmt.Println("usage: subscribe <expr> [from]")
				continue
			}
			b := rt.Store().Subscribe(fields[1])
			if len(fields) > 2 {
				b = b.From(fields[2])
			}
			sub, err := b.Callback(func(e vstore.Event) {
				fmt.Printf("\n[event] %s %s %v\narbor> ", e.Type, e.Result.ID, e.Result.Value)
			})
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			subs[string(sub.ID())] = sub
			fmt.Println("subscribed", sub.ID())
		case "unsubscribe":
			if len(fields) < 2 {
				fmt.Println("usage: unsubscribe <subscription-id>")
				continue
			}
			if err := rt.Store().Unsubscribe(domain.EntityID(fields[1])); err != nil {
				fmt.Println("error:", err)
				continue
			}
			delete(subs, fields[1])
			fmt.Println("unsubscribed")
		case "publish":
			if len(fields) < 3 {
				fmt.Println("usage: publish <update|define|delete> <id> [value]")
				continue
			}
			var ev domain.EventType
			switch fields[1] {
			case "define":
				ev = domain.EventDefine
			case "delete":
				ev = domain.EventDelete
			default:
				ev = domain.EventUpdate
			}
			b := rt.Store().Publish(ev, fields[2])
			if len(fields) > 3 {
				b = b.ContentType("application/json").Value([]byte(strings.Join(fields[3:], " ")))
			}
			if err := b.Do(); err != nil {
				fmt.Println("error:", err)
			} else {
				fmt.Println("published")
			}
		case "help":
			fmt.Println("commands: declare define select subscribe unsubscribe publish mounts build quit")
		default:
			fmt.Println("unknown command; try help")
		}
	}
}

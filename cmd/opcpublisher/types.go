// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	opcua "github.com/edgeo-scada/opcpublisher"
	"github.com/edgeo-scada/opcpublisher/session"
	"github.com/edgeo-scada/opcpublisher/subscription"
	"github.com/edgeo-scada/opcpublisher/typesystem"
	"github.com/edgeo-scada/opcpublisher/uaclient"
)

var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "Resolve and print the custom data types of a server",
	Long: `Loads the complex types of an OPC UA server and prints the resolved
descriptors. Client settings and credentials are taken from the config
file when it exists.

Examples:
  opcpublisher types -e opc.tcp://localhost:4840
  opcpublisher types -e opc.tcp://localhost:4840 --namespace urn:example:types
  opcpublisher types -e opc.tcp://localhost:4840 --node "ns=2;i=3001" --credential operator`,
	RunE: runTypes,
}

var (
	typesEndpoint   string
	typesCredential string
	typesNamespace  string
	typesNode       string
	typesTimeout    time.Duration
)

func init() {
	typesCmd.Flags().StringVarP(&typesEndpoint, "endpoint", "e", "opc.tcp://localhost:4840", "OPC UA server endpoint URL")
	typesCmd.Flags().StringVar(&typesCredential, "credential", "", "Credential name from the config file")
	typesCmd.Flags().StringVar(&typesNamespace, "namespace", "", "Only load the types of this namespace URI")
	typesCmd.Flags().StringVarP(&typesNode, "node", "n", "", "Only load this data type and its dependencies")
	typesCmd.Flags().DurationVarP(&typesTimeout, "timeout", "t", time.Minute, "Time allowed to connect and load")
	typesCmd.MarkFlagsMutuallyExclusive("namespace", "node")
}

func runTypes(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}
	if _, ok := cfg.Credentials[typesCredential]; typesCredential != "" && !ok {
		return fmt.Errorf("unknown credential %q", typesCredential)
	}

	ctx, cancel := context.WithTimeout(context.Background(), typesTimeout)
	defer cancel()

	holder := session.New(uaclient.NewConnector(cfg.ClientConfig(), logger),
		session.WithLogger(logger),
		session.WithIdleTimeout(0),
		session.WithConnectTimeout(typesTimeout),
	)
	defer holder.Close(context.Background())

	key := subscription.MonitoredItem{Endpoint: strings.TrimRight(typesEndpoint, "/"), Credential: typesCredential}.ConnectionKey()
	hd := holder.Acquire(key)
	defer hd.Release()
	if err := hd.Wait(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	ts := typesystem.New(uaclient.HandleSource{Handle: hd}, typeOptions(cfg.Types, logger)...)
	var complete bool
	switch {
	case typesNode != "":
		id, perr := opcua.ParseNodeID(typesNode)
		if perr != nil {
			return perr
		}
		complete, err = ts.LoadType(ctx, id)
	case typesNamespace != "":
		complete, err = ts.LoadNamespace(ctx, typesNamespace)
	default:
		complete, err = ts.Load(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to load types: %w", err)
	}

	printTypes(os.Stdout, ts.Registry().Types())
	if !complete {
		fmt.Fprintln(os.Stderr, "warning: some types could not be resolved")
	}
	return nil
}

func printTypes(w io.Writer, types []*typesystem.TypeDescriptor) {
	for _, t := range types {
		fmt.Fprintf(w, "%s %s (%s, from %s)\n", t.ID, t.Name, t.Kind, t.Source)
		if !t.BinaryEncodingID.IsNull() {
			fmt.Fprintf(w, "  encoding: %s\n", t.BinaryEncodingID)
		}
		for _, v := range t.Values {
			fmt.Fprintf(w, "  %s = %d\n", v.Name, v.Value)
		}
		for i := range t.Fields {
			fmt.Fprintf(w, "  %s\n", describeField(&t.Fields[i]))
		}
	}
	fmt.Fprintf(w, "%d types\n", len(types))
}

func describeField(f *typesystem.FieldDescriptor) string {
	var typ string
	switch {
	case f.Recursive:
		typ = "self"
	case f.Abstract:
		typ = "ExtensionObject<" + f.DataType.String() + ">"
	case f.Type != nil:
		typ = f.Type.Name
	default:
		typ = f.Builtin.String()
	}
	switch f.Shape {
	case typesystem.ShapeSequence:
		typ = "[]" + typ
	case typesystem.ShapeMatrix:
		typ = fmt.Sprintf("matrix%v %s", f.ArrayDimensions, typ)
	}
	if f.Optional {
		typ += " (optional)"
	}
	return f.Name + ": " + typ
}

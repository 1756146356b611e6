package control

import (
	"fmt"
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	_ "google.golang.org/protobuf/types/known/emptypb"
	_ "google.golang.org/protobuf/types/known/structpb"
)

// ControlServiceName is the fully-qualified name of the ControlService service.
const ControlServiceName = "scoreboard.v1.ControlService"

const (
	emptyType  = ".google.protobuf.Empty"
	structType = ".google.protobuf.Struct"
)

// controlMethods lists the ControlService methods with their request type. Every method
// answers with a Struct.
var controlMethods = []struct {
	name  string
	input string
}{
	{"Snapshot", emptyType},
	{"Start", emptyType},
	{"Stop", emptyType},
	{"Pause", emptyType},
	{"SetTime", structType},
	{"SetShotClock", structType},
	{"ResetShotClock", structType},
	{"SetShotClockEnabled", structType},
	{"SendCommand", structType},
	{"Horn", emptyType},
	{"ForceResync", emptyType},
	{"NewGame", emptyType},
	{"Devices", emptyType},
	{"ReloadDevices", emptyType},
	{"Connect", structType},
	{"Disconnect", structType},
	{"Scan", emptyType},
}

// procedure returns the Connect path of a ControlService method.
func procedure(method string) string {
	return "/" + ControlServiceName + "/" + method
}

var (
	descriptorOnce sync.Once
	serviceDesc    protoreflect.ServiceDescriptor
	descriptorErr  error
)

// ServiceDescriptor builds the ControlService descriptor and registers it in the global
// registry, so reflection clients can list and describe the service.
func ServiceDescriptor() (protoreflect.ServiceDescriptor, error) {
	descriptorOnce.Do(func() {
		fd, err := protodesc.NewFile(fileDescriptorProto(), protoregistry.GlobalFiles)
		if err != nil {
			descriptorErr = fmt.Errorf("build control descriptor: %w", err)
			return
		}
		if err := protoregistry.GlobalFiles.RegisterFile(fd); err != nil {
			descriptorErr = fmt.Errorf("register control descriptor: %w", err)
			return
		}
		serviceDesc = fd.Services().ByName("ControlService")
	})
	return serviceDesc, descriptorErr
}

func fileDescriptorProto() *descriptorpb.FileDescriptorProto {
	methods := make([]*descriptorpb.MethodDescriptorProto, 0, len(controlMethods))
	for _, m := range controlMethods {
		methods = append(methods, &descriptorpb.MethodDescriptorProto{
			Name:       proto.String(m.name),
			InputType:  proto.String(m.input),
			OutputType: proto.String(structType),
		})
	}
	return &descriptorpb.FileDescriptorProto{
		Name:    proto.String("scoreboard/v1/control.proto"),
		Package: proto.String("scoreboard.v1"),
		Dependency: []string{
			"google/protobuf/empty.proto",
			"google/protobuf/struct.proto",
		},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name:   proto.String("ControlService"),
			Method: methods,
		}},
		Syntax: proto.String("proto3"),
	}
}
